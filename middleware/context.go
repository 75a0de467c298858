package middleware

import (
	"context"

	"github.com/upb/api-auth/verifier"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ClaimsKey is the context key for verified token claims
	ClaimsKey contextKey = "claims"
)

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetClaimsFromContext retrieves verified claims from context
func GetClaimsFromContext(ctx context.Context) *verifier.Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*verifier.Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds verified claims to the context
func WithClaims(ctx context.Context, claims *verifier.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}
