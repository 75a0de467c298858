package handlers

import (
	"net/http"
	"time"

	"github.com/upb/api-auth/app"
	"github.com/upb/api-auth/utils"
)

// HealthResponse represents the readiness check response
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Checks    map[string]any `json:"checks,omitempty"`
}

// RootHandler returns the application name and environment
func RootHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusOK, map[string]string{
			"message":     "Welcome to " + deps.Config.AppName,
			"environment": deps.Config.Environment,
		})
	}
}

// HealthCheck returns a simple liveness handler
func HealthCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadinessCheck reports ready once a key set has been fetched. A stale set
// still counts: it is refreshed on the next verification.
func ReadinessCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := deps.KeySets.Stats()

		if !stats.Cached {
			_ = utils.WriteServiceUnavailable(w, "Key set not fetched yet", map[string]interface{}{
				"key_set": stats,
			})
			return
		}

		_ = utils.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:    "ready",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks: map[string]any{
				"key_set": stats,
			},
		})
	}
}
