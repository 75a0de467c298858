// Package verifier verifies bearer tokens issued by an OIDC identity provider
// such as AWS Cognito.
//
// The package is built from four parts:
//   - KeySetCache: fetches the issuer's JWKS and keeps an immutable snapshot
//     in memory, refreshing on TTL expiry or unknown key ids with at most one
//     fetch in flight
//   - VerifySignature: checks the signature over the original encoded segments
//   - ClaimsValidator: enforces exp, nbf, aud and iss with zero default leeway
//   - Engine: runs the steps above in order and returns the verified Claims
//
// Every rejection is a *VerificationError whose Kind tells the caller why.
package verifier
