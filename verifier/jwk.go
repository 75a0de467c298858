package verifier

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
)

// JWKS represents the JSON Web Key Set document published by the issuer
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a single JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// KeyEntry is one usable verification key. Entries are never modified after
// the key set that holds them is published.
type KeyEntry struct {
	KeyID     string
	KeyType   string
	Algorithm string
	Use       string
	PublicKey crypto.PublicKey
}

// KeySet is an immutable snapshot of the issuer's published keys.
type KeySet struct {
	Keys      []*KeyEntry
	FetchedAt time.Time
	TTL       time.Duration

	byKID map[string]*KeyEntry
}

// NewKeySet indexes entries by kid. When two entries share a kid the first one wins.
func NewKeySet(entries []*KeyEntry, fetchedAt time.Time, ttl time.Duration) *KeySet {
	byKID := make(map[string]*KeyEntry, len(entries))
	keys := make([]*KeyEntry, 0, len(entries))
	for _, entry := range entries {
		if _, dup := byKID[entry.KeyID]; dup {
			continue
		}
		byKID[entry.KeyID] = entry
		keys = append(keys, entry)
	}
	return &KeySet{
		Keys:      keys,
		FetchedAt: fetchedAt,
		TTL:       ttl,
		byKID:     byKID,
	}
}

// Lookup returns the entry for kid
func (s *KeySet) Lookup(kid string) (*KeyEntry, bool) {
	entry, ok := s.byKID[kid]
	return entry, ok
}

// ExpiresAt returns the time after which the snapshot must be refreshed
func (s *KeySet) ExpiresAt() time.Time {
	return s.FetchedAt.Add(s.TTL)
}

// Expired reports whether the snapshot is stale at now
func (s *KeySet) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}

// Len returns the number of usable keys
func (s *KeySet) Len() int {
	return len(s.Keys)
}

var errNoUsableKeys = errors.New("key set contains no usable signing keys")

// parseKeySet decodes a JWKS document. Keys that cannot be used for signature
// verification are skipped; a document without a single usable key is an error.
func parseKeySet(data []byte, fetchedAt time.Time, ttl time.Duration, logger *zap.Logger) (*KeySet, error) {
	var jwks JWKS
	if err := json.Unmarshal(data, &jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	entries := make([]*KeyEntry, 0, len(jwks.Keys))
	for i := range jwks.Keys {
		jwk := &jwks.Keys[i]
		entry, err := jwkToKeyEntry(jwk)
		if err != nil {
			logger.Debug("skipping JWKS entry",
				zap.String("kid", jwk.Kid),
				zap.String("kty", jwk.Kty),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil, errNoUsableKeys
	}

	return NewKeySet(entries, fetchedAt, ttl), nil
}

func jwkToKeyEntry(jwk *JWK) (*KeyEntry, error) {
	if jwk.Kid == "" {
		return nil, errors.New("missing kid")
	}
	if jwk.Use != "" && jwk.Use != "sig" {
		return nil, fmt.Errorf("key use %q is not sig", jwk.Use)
	}

	var (
		publicKey crypto.PublicKey
		err       error
	)
	switch jwk.Kty {
	case "RSA":
		publicKey, err = jwkToRSAPublicKey(jwk)
	case "EC":
		publicKey, err = jwkToECPublicKey(jwk)
	default:
		return nil, fmt.Errorf("unsupported key type %q", jwk.Kty)
	}
	if err != nil {
		return nil, err
	}

	return &KeyEntry{
		KeyID:     jwk.Kid,
		KeyType:   jwk.Kty,
		Algorithm: jwk.Alg,
		Use:       jwk.Use,
		PublicKey: publicKey,
	}, nil
}

// jwkToRSAPublicKey converts a JWK to an RSA public key
func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}
	// Exponents wider than 4 bytes overflow int on 32-bit platforms and are
	// never used in practice.
	if len(eBytes) > 4 {
		return nil, errors.New("exponent too large")
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e < 3 {
		return nil, fmt.Errorf("invalid exponent %d", e)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// jwkToECPublicKey converts a JWK to an ECDSA public key, rejecting points
// that are not on the named curve.
func jwkToECPublicKey(jwk *JWK) (*ecdsa.PublicKey, error) {
	var (
		curve elliptic.Curve
		check ecdh.Curve
	)
	switch jwk.Crv {
	case "P-256":
		curve, check = elliptic.P256(), ecdh.P256()
	case "P-384":
		curve, check = elliptic.P384(), ecdh.P384()
	case "P-521":
		curve, check = elliptic.P521(), ecdh.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", jwk.Crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to decode y coordinate: %w", err)
	}

	size := (curve.Params().BitSize + 7) / 8
	if len(xBytes) > size || len(yBytes) > size {
		return nil, errors.New("coordinate longer than curve size")
	}

	point := make([]byte, 1+2*size)
	point[0] = 4
	copy(point[1+size-len(xBytes):1+size], xBytes)
	copy(point[1+2*size-len(yBytes):], yBytes)
	if _, err := check.NewPublicKey(point); err != nil {
		return nil, fmt.Errorf("invalid curve point: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
