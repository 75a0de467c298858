package verifier

import (
	"errors"
	"fmt"
)

// ErrorKind identifies why a token was rejected.
type ErrorKind string

const (
	KindMalformedToken       ErrorKind = "malformed_token"
	KindUnsupportedAlgorithm ErrorKind = "unsupported_algorithm"
	KindUnknownKeyID         ErrorKind = "unknown_key_id"
	KindKeySetUnavailable    ErrorKind = "key_set_unavailable"
	KindSignatureMismatch    ErrorKind = "signature_mismatch"
	KindExpired              ErrorKind = "expired"
	KindNotYetValid          ErrorKind = "not_yet_valid"
	KindAudienceMismatch     ErrorKind = "audience_mismatch"
	KindIssuerMismatch       ErrorKind = "issuer_mismatch"
)

var kindMessages = map[ErrorKind]string{
	KindMalformedToken:       "malformed token",
	KindUnsupportedAlgorithm: "unsupported algorithm",
	KindUnknownKeyID:         "unknown key id",
	KindKeySetUnavailable:    "key set unavailable",
	KindSignatureMismatch:    "signature mismatch",
	KindExpired:              "token expired",
	KindNotYetValid:          "token not yet valid",
	KindAudienceMismatch:     "audience mismatch",
	KindIssuerMismatch:       "issuer mismatch",
}

// VerificationError is returned for every rejected token. Compare against the
// Err* sentinels with errors.Is, or read Kind after errors.As.
type VerificationError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

var (
	// ErrMalformedToken is returned when the token cannot be split or decoded
	ErrMalformedToken = &VerificationError{Kind: KindMalformedToken}

	// ErrUnsupportedAlgorithm is returned when the header alg is not allow-listed
	ErrUnsupportedAlgorithm = &VerificationError{Kind: KindUnsupportedAlgorithm}

	// ErrUnknownKeyID is returned when no published key matches the header kid
	ErrUnknownKeyID = &VerificationError{Kind: KindUnknownKeyID}

	// ErrKeySetUnavailable is returned when the issuer key set cannot be fetched
	ErrKeySetUnavailable = &VerificationError{Kind: KindKeySetUnavailable}

	// ErrSignatureMismatch is returned when the signature does not verify
	ErrSignatureMismatch = &VerificationError{Kind: KindSignatureMismatch}

	// ErrExpired is returned when exp is not after the validation time
	ErrExpired = &VerificationError{Kind: KindExpired}

	// ErrNotYetValid is returned when nbf is after the validation time
	ErrNotYetValid = &VerificationError{Kind: KindNotYetValid}

	// ErrAudienceMismatch is returned when the token was not issued for this client
	ErrAudienceMismatch = &VerificationError{Kind: KindAudienceMismatch}

	// ErrIssuerMismatch is returned when iss differs from the configured issuer
	ErrIssuerMismatch = &VerificationError{Kind: KindIssuerMismatch}
)

func newError(kind ErrorKind, reason string, err error) *VerificationError {
	return &VerificationError{Kind: kind, Reason: reason, Err: err}
}

func (e *VerificationError) Error() string {
	msg, ok := kindMessages[e.Kind]
	if !ok {
		msg = string(e.Kind)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Is matches any VerificationError of the same kind.
func (e *VerificationError) Is(target error) bool {
	t, ok := target.(*VerificationError)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the same token might verify on a later attempt.
// Only an unreachable key set qualifies; every other kind is permanent.
func (e *VerificationError) Retryable() bool {
	return e.Kind == KindKeySetUnavailable
}

// KindOf returns the kind of a verification failure, or "" for nil and
// foreign errors.
func KindOf(err error) ErrorKind {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return ""
}
