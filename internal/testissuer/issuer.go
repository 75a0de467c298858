// Package testissuer runs an in-process OIDC issuer for tests: an RSA signing
// key, a JWKS endpoint that counts fetches, and helpers to mint tokens.
package testissuer

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	// KeyID is the kid of the published signing key
	KeyID = "test-key-1"

	// Audience is the client id tokens are issued for by default
	Audience = "test-client"
)

// Issuer is an httptest server publishing one RSA key at /.well-known/jwks.json
type Issuer struct {
	Server *httptest.Server
	Key    *rsa.PrivateKey

	fetches atomic.Int32
	down    atomic.Bool
}

// New starts an issuer that is closed when t finishes
func New(t testing.TB) *Issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	iss := &Issuer{Key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		iss.fetches.Add(1)
		if iss.down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": KeyID,
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})
	iss.Server = httptest.NewServer(mux)
	t.Cleanup(iss.Server.Close)
	return iss
}

// URL is the issuer identifier, as placed in the iss claim
func (i *Issuer) URL() string {
	return i.Server.URL
}

// JWKSURL is where the key set is published
func (i *Issuer) JWKSURL() string {
	return i.Server.URL + "/.well-known/jwks.json"
}

// Fetches returns how many times the key set was requested
func (i *Issuer) Fetches() int {
	return int(i.fetches.Load())
}

// SetDown makes the JWKS endpoint answer 503
func (i *Issuer) SetDown(down bool) {
	i.down.Store(down)
}

// Claims returns a claim set that verifies against this issuer for an hour
func (i *Issuer) Claims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":      sub,
		"username": sub,
		"iss":      i.URL(),
		"aud":      Audience,
		"iat":      now.Unix(),
		"exp":      now.Add(time.Hour).Unix(),
	}
}

// Sign mints an RS256 token for claims with the published kid
func (i *Issuer) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = KeyID
	signed, err := token.SignedString(i.Key)
	require.NoError(t, err)
	return signed
}
