package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/api-auth/utils"
	"github.com/upb/api-auth/verifier"
)

// TokenVerifier verifies a bearer token and returns its claims
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*verifier.Claims, error)
}

// ReasonMissingToken is reported when no bearer token was sent
const ReasonMissingToken = "missing_token"

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(verifier TokenVerifier, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger,
	}
}

// RequireAuth is a middleware that requires a valid bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := ExtractBearerToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			WriteAuthError(w, nil)
			return
		}

		claims, err := m.verifier.Verify(ctx, token)
		if err != nil {
			m.logger.Warn("token verification failed",
				zap.String("request_id", requestID),
				zap.String("reason", string(verifier.KindOf(err))),
				zap.Error(err))
			WriteAuthError(w, err)
			return
		}

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", claims.Subject))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireGroup is a middleware that requires membership of a Cognito group.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireGroup(group string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				m.logger.Error("claims not found in context",
					zap.String("request_id", requestID))
				WriteAuthError(w, nil)
				return
			}

			if !claims.HasGroup(group) {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("required_group", group),
					zap.Strings("user_groups", claims.Groups))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteAuthError writes the 401 response for a failed verification. A nil
// err means no token was presented.
func WriteAuthError(w http.ResponseWriter, err error) {
	if err == nil {
		_ = utils.WriteUnauthorized(w, "Missing or invalid authorization", map[string]interface{}{
			"reason":    ReasonMissingToken,
			"retryable": false,
		})
		return
	}

	var verr *verifier.VerificationError
	if !errors.As(err, &verr) {
		_ = utils.WriteUnauthorized(w, "Invalid or expired token", nil)
		return
	}

	_ = utils.WriteUnauthorized(w, "Invalid or expired token", map[string]interface{}{
		"reason":    string(verr.Kind),
		"retryable": verr.Retryable(),
	})
}

// ExtractBearerToken extracts the Bearer token from the Authorization header
func ExtractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	// Check if it starts with "Bearer "
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
