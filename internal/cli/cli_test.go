package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/api-auth/internal/testissuer"
	"github.com/upb/api-auth/verifier"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func issuerFlags(iss *testissuer.Issuer) []string {
	return []string{"--issuer", iss.URL(), "--audience", testissuer.Audience}
}

func TestVerifyCommand_PrintsClaims(t *testing.T) {
	iss := testissuer.New(t)
	token := iss.Sign(t, iss.Claims("alice"))

	out, err := execute(t, "", append([]string{"verify", token}, issuerFlags(iss)...)...)
	require.NoError(t, err)

	var claims map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &claims))
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, iss.URL(), claims["iss"])
	assert.Equal(t, 1, iss.Fetches())
}

func TestVerifyCommand_ReadsStdin(t *testing.T) {
	iss := testissuer.New(t)
	token := iss.Sign(t, iss.Claims("bob"))

	tests := []struct {
		name  string
		args  []string
		stdin string
	}{
		{name: "no argument", args: []string{"verify"}, stdin: token + "\n"},
		{name: "dash", args: []string{"verify", "-"}, stdin: token},
		{name: "bearer prefix", args: []string{"verify"}, stdin: "Bearer " + token + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.stdin, append(tt.args, issuerFlags(iss)...)...)
			require.NoError(t, err)
			assert.Contains(t, out, `"sub": "bob"`)
		})
	}
}

func TestVerifyCommand_TextOutput(t *testing.T) {
	iss := testissuer.New(t)
	claims := iss.Claims("carol")
	claims["cognito:groups"] = []string{"admin", "dev"}
	token := iss.Sign(t, claims)

	out, err := execute(t, "", append([]string{"verify", token, "-o", "text"}, issuerFlags(iss)...)...)
	require.NoError(t, err)

	assert.Contains(t, out, "carol")
	assert.Contains(t, out, testissuer.Audience)
	assert.Contains(t, out, "admin, dev")
}

func TestVerifyCommand_Rejections(t *testing.T) {
	iss := testissuer.New(t)

	expired := iss.Claims("alice")
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	tests := []struct {
		name    string
		token   string
		extra   []string
		wantErr error
	}{
		{name: "expired", token: iss.Sign(t, expired), wantErr: verifier.ErrExpired},
		{name: "malformed", token: "not-a-token", wantErr: verifier.ErrMalformedToken},
		{
			name:    "other audience",
			token:   iss.Sign(t, iss.Claims("alice")),
			extra:   []string{"--audience", "someone-else"},
			wantErr: verifier.ErrAudienceMismatch,
		},
		{
			name:    "algorithm not allowed",
			token:   iss.Sign(t, iss.Claims("alice")),
			extra:   []string{"--alg", "ES256"},
			wantErr: verifier.ErrUnsupportedAlgorithm,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"verify", tt.token}, issuerFlags(iss)...)
			out, err := execute(t, "", append(args, tt.extra...)...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), "token rejected")
			assert.Empty(t, out)
		})
	}
}

func TestVerifyCommand_IssuerDown(t *testing.T) {
	iss := testissuer.New(t)
	token := iss.Sign(t, iss.Claims("alice"))
	iss.SetDown(true)

	_, err := execute(t, "", append([]string{"verify", token}, issuerFlags(iss)...)...)
	require.Error(t, err)
	assert.ErrorIs(t, err, verifier.ErrKeySetUnavailable)
	assert.Contains(t, err.Error(), "retry later")
}

func TestVerifyCommand_EmptyToken(t *testing.T) {
	iss := testissuer.New(t)

	_, err := execute(t, "   \n", append([]string{"verify"}, issuerFlags(iss)...)...)
	assert.EqualError(t, err, "no token given")
	assert.Equal(t, 0, iss.Fetches())
}

func TestVerifyCommand_FallsBackToEnvironment(t *testing.T) {
	iss := testissuer.New(t)
	t.Setenv("OIDC_ISSUER_URL", iss.URL())
	t.Setenv("OIDC_AUDIENCE", testissuer.Audience)
	t.Setenv("OIDC_JWKS_URL", "")
	t.Setenv("ENVIRONMENT", "test")

	out, err := execute(t, "", "verify", iss.Sign(t, iss.Claims("dave")))
	require.NoError(t, err)
	assert.Contains(t, out, `"sub": "dave"`)
}

func TestVerifyCommand_MissingConfiguration(t *testing.T) {
	for _, key := range []string{
		"OIDC_ISSUER_URL", "OIDC_JWKS_URL", "OIDC_AUDIENCE",
		"COGNITO_USER_POOL_ID", "COGNITO_APP_CLIENT_ID", "COGNITO_CLIENT_ID",
	} {
		t.Setenv(key, "")
	}

	_, err := execute(t, "", "verify", "a.b.c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--issuer and --audience are required")
}

func TestKeysCommand(t *testing.T) {
	iss := testissuer.New(t)

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "", append([]string{"keys"}, issuerFlags(iss)...)...)
		require.NoError(t, err)

		var info keySetInfo
		require.NoError(t, json.Unmarshal([]byte(out), &info))
		assert.Equal(t, iss.JWKSURL(), info.URL)
		require.Len(t, info.Keys, 1)
		assert.Equal(t, testissuer.KeyID, info.Keys[0].KeyID)
		assert.Equal(t, "RSA", info.Keys[0].KeyType)
		assert.Equal(t, "RS256", info.Keys[0].Algorithm)
		assert.Equal(t, verifier.DefaultCacheTTL, info.ExpiresAt.Sub(info.FetchedAt))
	})

	t.Run("text", func(t *testing.T) {
		out, err := execute(t, "", append([]string{"keys", "-o", "text"}, issuerFlags(iss)...)...)
		require.NoError(t, err)
		assert.Contains(t, out, "KID")
		assert.Contains(t, out, testissuer.KeyID)
		assert.Contains(t, out, "fetched ")
	})

	t.Run("issuer down", func(t *testing.T) {
		iss.SetDown(true)
		defer iss.SetDown(false)

		_, err := execute(t, "", append([]string{"keys"}, issuerFlags(iss)...)...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to fetch key set")
	})
}

func TestRootCommand_RejectsUnknownOutput(t *testing.T) {
	iss := testissuer.New(t)

	_, err := execute(t, "", append([]string{"keys", "-o", "yaml"}, issuerFlags(iss)...)...)
	assert.EqualError(t, err, `unknown output format "yaml"`)
	assert.Equal(t, 0, iss.Fetches())
}

func TestVerifyCommand_ClientIDAudience(t *testing.T) {
	iss := testissuer.New(t)
	claims := iss.Claims("erin")
	delete(claims, "aud")
	claims["client_id"] = testissuer.Audience
	token := iss.Sign(t, claims)

	_, err := execute(t, "", append([]string{"verify", token}, issuerFlags(iss)...)...)
	assert.ErrorIs(t, err, verifier.ErrAudienceMismatch)

	out, err := execute(t, "", append([]string{"verify", token, "--accept-client-id"}, issuerFlags(iss)...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"client_id": "test-client"`)
}
