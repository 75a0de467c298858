package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/api-auth/config"
	"github.com/upb/api-auth/internal/testissuer"
	"github.com/upb/api-auth/verifier"
)

func testConfig(t *testing.T, iss *testissuer.Issuer) *config.Config {
	t.Helper()
	return &config.Config{
		AppName:     "api-auth",
		Environment: "test",
		OIDC: config.OIDCConfig{
			IssuerURL:         iss.URL(),
			JWKSURL:           iss.JWKSURL(),
			Audience:          testissuer.Audience,
			AllowedAlgorithms: []string{"RS256"},
			CacheTTL:          time.Hour,
			FetchTimeout:      2 * time.Second,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       "debug",
			LogFormat:      "text",
			MetricsEnabled: true,
		},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("successful initialization warms the key set", func(t *testing.T) {
		ctx := context.Background()
		iss := testissuer.New(t)
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, testConfig(t, iss), logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		assert.NotNil(t, deps.Config)
		assert.NotNil(t, deps.Logger)
		assert.NotNil(t, deps.Metrics)
		assert.NotNil(t, deps.AuthMiddleware)
		assert.Equal(t, 1, iss.Fetches())
		assert.True(t, deps.KeySets.Stats().Fresh)

		claims, err := deps.Verifier.Verify(ctx, iss.Sign(t, iss.Claims("alice")))
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Subject)
		assert.Equal(t, 1, iss.Fetches())

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("unreachable issuer does not block startup", func(t *testing.T) {
		ctx := context.Background()
		iss := testissuer.New(t)
		iss.SetDown(true)

		deps, err := NewDependencies(ctx, testConfig(t, iss), zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.False(t, deps.KeySets.Stats().Cached)

		iss.SetDown(false)
		_, err = deps.Verifier.Verify(ctx, iss.Sign(t, iss.Claims("alice")))
		assert.NoError(t, err)
		assert.Equal(t, 2, iss.Fetches())
	})

	t.Run("metrics disabled", func(t *testing.T) {
		iss := testissuer.New(t)
		cfg := testConfig(t, iss)
		cfg.Observability.MetricsEnabled = false

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Nil(t, deps.Metrics)
	})

	t.Run("invalid verifier settings", func(t *testing.T) {
		iss := testissuer.New(t)
		cfg := testConfig(t, iss)
		cfg.OIDC.AllowedAlgorithms = []string{"HS256"}

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize token verifier")
		assert.Equal(t, 0, iss.Fetches())
	})
}

func TestDependencies_RejectsForeignTokens(t *testing.T) {
	ctx := context.Background()
	iss := testissuer.New(t)
	other := testissuer.New(t)

	deps, err := NewDependencies(ctx, testConfig(t, iss), zaptest.NewLogger(t))
	require.NoError(t, err)

	claims := other.Claims("mallory")
	claims["iss"] = iss.URL()
	_, err = deps.Verifier.Verify(ctx, other.Sign(t, claims))
	assert.ErrorIs(t, err, verifier.ErrSignatureMismatch)
}
