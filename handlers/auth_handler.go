package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/api-auth/app"
	"github.com/upb/api-auth/middleware"
	"github.com/upb/api-auth/utils"
	"github.com/upb/api-auth/verifier"
)

// VerifyResponse is returned for a token that passed verification
type VerifyResponse struct {
	User   string         `json:"user"`
	Status string         `json:"status"`
	Claims map[string]any `json:"claims"`
}

// CurrentUserResponse describes the authenticated caller
type CurrentUserResponse struct {
	User    string   `json:"user"`
	Subject string   `json:"sub"`
	Email   string   `json:"email,omitempty"`
	Groups  []string `json:"groups,omitempty"`
	Message string   `json:"message"`
}

// VerifyTokenHandler handles GET /auth/verify. The token is read from the
// Authorization header, or from the "token" query parameter when no header
// is sent.
func VerifyTokenHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := middleware.ExtractBearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			middleware.WriteAuthError(w, nil)
			return
		}

		claims, err := deps.Verifier.Verify(r.Context(), token)
		if err != nil {
			deps.Logger.Info("token rejected",
				zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
				zap.String("reason", string(verifier.KindOf(err))))
			middleware.WriteAuthError(w, err)
			return
		}

		_ = utils.WriteJSON(w, http.StatusOK, VerifyResponse{
			User:   claims.Subject,
			Status: "Token valid",
			Claims: claims.Raw,
		})
	}
}

// CurrentUserHandler handles GET /auth/me; it must be mounted behind RequireAuth
func CurrentUserHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.GetClaimsFromContext(r.Context())
		if claims == nil {
			middleware.WriteAuthError(w, nil)
			return
		}

		_ = utils.WriteJSON(w, http.StatusOK, CurrentUserResponse{
			User:    claims.PreferredUsername(),
			Subject: claims.Subject,
			Email:   claims.Email,
			Groups:  claims.Groups,
			Message: "You have access to this route",
		})
	}
}
