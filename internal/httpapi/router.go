// Package httpapi exposes the Engine over HTTP with chi.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abctrading/tradeauth/middleware"
)

// Config tunes the HTTP surface.
type Config struct {
	MaxBodyBytes      int64
	TrustProxyHeaders bool
	// RetryAfter is sent with 503 and 429 responses.
	RetryAfter   time.Duration
	ReadyTimeout time.Duration
	// MeScopes are required on GET /me in addition to a valid token.
	MeScopes []string
}

// Deps are the collaborators wired into the router. Metrics and
// MetricsHandler are optional.
type Deps struct {
	Auth           Authenticator
	Health         *Health
	Metrics        *HTTPMetrics
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// NewRouter builds the chi router.
func NewRouter(cfg Config, deps Deps) (http.Handler, error) {
	if deps.Auth == nil {
		return nil, errors.New("httpapi: authenticator required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	health := deps.Health
	if health == nil {
		health = NewHealth(cfg.ReadyTimeout)
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 10
	}

	auth := &AuthHandler{
		auth:    deps.Auth,
		errs:    errorWriter{logger: logger, retryAfter: cfg.RetryAfter},
		maxBody: maxBody,
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(RequestLogging(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.Get("/health/live", health.Live)
	r.Get("/health/ready", health.Ready)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ClientInfo(cfg.TrustProxyHeaders))

		r.Post("/login", auth.Login)
		r.Post("/refresh", auth.Refresh)
		r.Post("/logout", auth.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAccess(deps.Auth))
			if len(cfg.MeScopes) > 0 {
				r.Use(middleware.RequireScope(cfg.MeScopes...))
			}
			r.Get("/me", auth.Me)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r, nil
}
