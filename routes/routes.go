package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/api-auth/app"
	"github.com/upb/api-auth/handlers"
	"github.com/upb/api-auth/middleware"
	"github.com/upb/api-auth/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(deps.Logger, deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, "WWW-Authenticate"},
		MaxAge:         300,
	}))

	r.Get("/", handlers.RootHandler(deps))

	// Health check endpoints
	r.Get("/healthz", handlers.HealthCheck(deps))
	r.Get("/readyz", handlers.ReadinessCheck(deps))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/verify", handlers.VerifyTokenHandler(deps))

		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			if group := deps.Config.OIDC.RequiredGroup; group != "" {
				r.Use(deps.AuthMiddleware.RequireGroup(group))
			}
			r.Get("/me", handlers.CurrentUserHandler(deps))
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "endpoint not found", nil)
	})

	return r
}
