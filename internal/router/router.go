// Package router assembles the HTTP routes and middleware chain.
package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/llmportal/orchestrator/api"
	"github.com/llmportal/orchestrator/internal/handler"
	"github.com/llmportal/orchestrator/internal/middleware"
	"github.com/llmportal/orchestrator/internal/policy"
)

// RateLimitOptions configures the per-caller limit on /api/v1.
type RateLimitOptions struct {
	Enabled bool
	RPM     int
	Burst   int
}

// Deps holds everything the router wires together.
type Deps struct {
	Logger *slog.Logger
	Policy policy.Policy

	Verifier    middleware.IdentityVerifier
	Provisioner middleware.Provisioner
	Limiter     middleware.IdentityLimiter
	RateLimit   RateLimitOptions

	Users   *handler.UserHandler
	Keys    *handler.KeyHandler
	Admin   *handler.AdminHandler
	Health  *handler.HealthHandler
	Metrics http.Handler

	IsDevelopment      bool
	CORSAllowedOrigins []string
	MaxRequestBodySize int64
}

// New configures the chi router with all routes and middleware.
func New(d Deps) *chi.Mux {
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = d.CORSAllowedOrigins

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Recoverer(d.Logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: d.IsDevelopment}))
	r.Use(middleware.CORS(corsCfg))
	if d.MaxRequestBodySize > 0 {
		r.Use(middleware.MaxBodySize(d.MaxRequestBodySize))
	}

	// Unauthenticated endpoints
	r.Get("/healthz", d.Health.Healthz)
	r.Get("/readyz", d.Health.Readyz)
	r.Get("/openapi.yaml", handler.OpenAPI(api.Spec))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(middleware.AuthConfig{Logger: d.Logger, Verifier: d.Verifier}))
		r.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Logger:  d.Logger,
			Limiter: d.Limiter,
			Enabled: d.RateLimit.Enabled,
			RPM:     d.RateLimit.RPM,
			Burst:   d.RateLimit.Burst,
		}))

		r.Route("/users", func(r chi.Router) {
			// Explicit creation must see a missing account, so it is not provisioned first.
			r.With(middleware.RequirePluginAccess(d.Policy)).Post("/", d.Users.Create)
			r.Route("/{userId}", func(r chi.Router) {
				r.Use(middleware.Provision(d.Logger, d.Provisioner))
				r.Use(middleware.ValidatePathParams)

				r.Get("/", d.Users.Get)
				r.Post("/keys", d.Keys.Create)
				r.Get("/keys", d.Keys.List)
				r.With(middleware.ValidatePathParams).Delete("/keys/{keyId}", d.Keys.Delete)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(d.Policy))

			r.Post("/cleanup", d.Admin.TriggerCleanup)
			r.Get("/cleanup/runs", d.Admin.ListCleanupRuns)
			r.Get("/stats", d.Admin.Stats)
			if d.Admin.ManagesDirectory() {
				r.Put("/directory/entities", d.Admin.UpsertEntity)
				r.Delete("/directory/entities/{ref}", d.Admin.DeleteEntity)
			}
		})
	})

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	return r
}
