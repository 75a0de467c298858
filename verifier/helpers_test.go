package verifier

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testIssuerURL = "https://issuer.example"
	testAudience  = "client123"
)

// Test helper to generate RSA key pair
func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey, &privateKey.PublicKey
}

func generateTestECKeyPair(t *testing.T) (*ecdsa.PrivateKey, *ecdsa.PublicKey) {
	t.Helper()
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return privateKey, &privateKey.PublicKey
}

func rsaJWK(kid string, publicKey *rsa.PublicKey) JWK {
	return JWK{
		Kid: kid,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
	}
}

func ecJWK(kid string, publicKey *ecdsa.PublicKey) JWK {
	size := (publicKey.Curve.Params().BitSize + 7) / 8
	return JWK{
		Kid: kid,
		Kty: "EC",
		Alg: "ES256",
		Use: "sig",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(publicKey.X.FillBytes(make([]byte, size))),
		Y:   base64.RawURLEncoding.EncodeToString(publicKey.Y.FillBytes(make([]byte, size))),
	}
}

// testIssuer is a JWKS endpoint that counts how often it is fetched
type testIssuer struct {
	server *httptest.Server
	calls  atomic.Int32

	mu     sync.Mutex
	keys   []JWK
	status int
	body   []byte
	delay  time.Duration
}

func newTestIssuer(t *testing.T, keys ...JWK) *testIssuer {
	t.Helper()
	issuer := &testIssuer{keys: keys, status: http.StatusOK}
	issuer.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issuer.calls.Add(1)

		issuer.mu.Lock()
		keys := append([]JWK(nil), issuer.keys...)
		status, body, delay := issuer.status, issuer.body, issuer.delay
		issuer.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if body != nil {
			_, _ = w.Write(body)
			return
		}
		_ = json.NewEncoder(w).Encode(JWKS{Keys: keys})
	}))
	t.Cleanup(issuer.server.Close)
	return issuer
}

func (i *testIssuer) URL() string {
	return i.server.URL
}

func (i *testIssuer) Calls() int {
	return int(i.calls.Load())
}

func (i *testIssuer) SetKeys(keys ...JWK) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys = keys
}

func (i *testIssuer) SetStatus(status int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = status
}

func (i *testIssuer) SetBody(body []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.body = body
}

func (i *testIssuer) SetDelay(delay time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.delay = delay
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// validClaims returns claims that pass the default test policy at now
func validClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":      "alice",
		"username": "alice",
		"aud":      testAudience,
		"iss":      testIssuerURL,
		"exp":      now.Add(time.Hour).Unix(),
		"iat":      now.Unix(),
	}
}

// Test helper to create a signed test token
func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, kid string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	tokenString, err := token.SignedString(key)
	require.NoError(t, err)
	return tokenString
}
