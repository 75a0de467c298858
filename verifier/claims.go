package verifier

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the verified token payload. Registered claims and the common
// Cognito claims are decoded into fields; Raw keeps every claim as sent.
type Claims struct {
	Subject         string           `json:"sub"`
	Username        string           `json:"username,omitempty"`
	CognitoUsername string           `json:"cognito:username,omitempty"`
	Email           string           `json:"email,omitempty"`
	TokenUse        string           `json:"token_use,omitempty"`
	ClientID        string           `json:"client_id,omitempty"`
	Scope           string           `json:"scope,omitempty"`
	Groups          []string         `json:"cognito:groups,omitempty"`
	Issuer          string           `json:"iss"`
	Audience        jwt.ClaimStrings `json:"aud,omitempty"`
	ExpiresAt       *jwt.NumericDate `json:"exp,omitempty"`
	NotBefore       *jwt.NumericDate `json:"nbf,omitempty"`
	IssuedAt        *jwt.NumericDate `json:"iat,omitempty"`

	Raw map[string]any `json:"-"`
}

// PreferredUsername returns the first of username, cognito:username and sub
// that is set.
func (c *Claims) PreferredUsername() string {
	switch {
	case c.Username != "":
		return c.Username
	case c.CognitoUsername != "":
		return c.CognitoUsername
	default:
		return c.Subject
	}
}

// HasGroup checks if the subject belongs to group
func (c *Claims) HasGroup(group string) bool {
	return slices.Contains(c.Groups, group)
}

// decodeClaims decodes the payload segment. It must only be called once the
// signature over that segment has been verified.
func decodeClaims(payloadSegment string) (*Claims, error) {
	payload, err := base64.RawURLEncoding.DecodeString(payloadSegment)
	if err != nil {
		return nil, newError(KindMalformedToken, "payload is not base64url", err)
	}

	claims := &Claims{}
	if err := json.Unmarshal(payload, claims); err != nil {
		return nil, newError(KindMalformedToken, "payload is not a claims object", err)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&claims.Raw); err != nil {
		return nil, newError(KindMalformedToken, "payload is not a claims object", err)
	}

	return claims, nil
}

// ClaimsPolicy configures ClaimsValidator
type ClaimsPolicy struct {
	Audience string
	Issuer   string

	// Leeway tolerates clock skew on exp and nbf. Defaults to zero.
	Leeway time.Duration

	// TokenUse, when non-empty, restricts the token_use claim (Cognito "id" or "access").
	TokenUse []string

	// AcceptClientID lets client_id stand in for a missing or empty aud, as
	// carried by Cognito access tokens. Off by default.
	AcceptClientID bool
}

// ClaimsValidator enforces exp, nbf, aud and iss on already verified claims.
// It performs no I/O.
type ClaimsValidator struct {
	policy ClaimsPolicy
}

// NewClaimsValidator creates a validator for policy
func NewClaimsValidator(policy ClaimsPolicy) *ClaimsValidator {
	return &ClaimsValidator{policy: policy}
}

// Validate checks claims at time now, stopping at the first failure
func (v *ClaimsValidator) Validate(claims *Claims, now time.Time) error {
	if claims.ExpiresAt == nil {
		return newError(KindMalformedToken, "missing exp claim", nil)
	}
	if !now.Before(claims.ExpiresAt.Add(v.policy.Leeway)) {
		return newError(KindExpired, fmt.Sprintf("expired at %s", claims.ExpiresAt.UTC().Format(time.RFC3339)), nil)
	}

	if claims.NotBefore != nil && now.Before(claims.NotBefore.Add(-v.policy.Leeway)) {
		return newError(KindNotYetValid, fmt.Sprintf("valid from %s", claims.NotBefore.UTC().Format(time.RFC3339)), nil)
	}

	if !v.audienceMatches(claims) {
		return newError(KindAudienceMismatch, "", nil)
	}

	if claims.Issuer != v.policy.Issuer {
		return newError(KindIssuerMismatch, fmt.Sprintf("got %q", claims.Issuer), nil)
	}

	if len(v.policy.TokenUse) > 0 && !slices.Contains(v.policy.TokenUse, claims.TokenUse) {
		return newError(KindAudienceMismatch, fmt.Sprintf("token_use %q not accepted", claims.TokenUse), nil)
	}

	return nil
}

// audienceMatches accepts aud equal to or containing the expected audience.
// client_id is consulted only when AcceptClientID is set and aud is absent or empty.
func (v *ClaimsValidator) audienceMatches(claims *Claims) bool {
	if v.policy.Audience == "" {
		return false
	}
	if len(claims.Audience) > 0 {
		return slices.Contains(claims.Audience, v.policy.Audience)
	}
	return v.policy.AcceptClientID && claims.ClientID == v.policy.Audience
}
