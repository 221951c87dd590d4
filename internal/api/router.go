package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/kiranshivaraju/niletrace/internal/api/middleware"
	"github.com/kiranshivaraju/niletrace/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler    http.HandlerFunc
	CreateWatch      http.HandlerFunc
	ListWatches      http.HandlerFunc
	GetWatch         http.HandlerFunc
	StopWatch        http.HandlerFunc
	DashboardHandler http.HandlerFunc
	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/watches", func(r chi.Router) {
			r.With(deps.Auth.RequireScope(mw.ScopeWatch)).Post("/", orNotImplemented(deps.CreateWatch))
			r.With(deps.Auth.RequireScope(mw.ScopeRead)).Get("/", orNotImplemented(deps.ListWatches))
			r.With(deps.Auth.RequireScope(mw.ScopeRead)).Get("/{watchID}", orNotImplemented(deps.GetWatch))
			r.With(deps.Auth.RequireScope(mw.ScopeWatch)).Delete("/{watchID}", orNotImplemented(deps.StopWatch))
		})

		r.With(deps.Auth.RequireScope(mw.ScopeRead)).Get("/api/v1/dashboard", orNotImplemented(deps.DashboardHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
