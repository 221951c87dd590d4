package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/niletrace/internal/api/response"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is anything with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
func NewHealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		checks := map[string]string{
			"database": checkStatus(ctx, db),
			"cache":    checkStatus(ctx, cache),
		}

		for _, status := range checks {
			if status != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}
		response.JSON(w, map[string]any{"status": "ok", "checks": checks})
	}
}

func checkStatus(ctx context.Context, p Pinger) string {
	if p == nil || p.Ping(ctx) != nil {
		return "degraded"
	}
	return "ok"
}
