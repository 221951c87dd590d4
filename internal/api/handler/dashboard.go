package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/niletrace/internal/api/response"
	"github.com/kiranshivaraju/niletrace/internal/niletrace"
	"github.com/kiranshivaraju/niletrace/internal/stats"
	"github.com/kiranshivaraju/niletrace/pkg/models"
)

const incidentFetchPageSize = 100

// IncidentLister fetches every incident visible to the agent's token.
type IncidentLister interface {
	ListAllIncidents(ctx context.Context, size int) ([]models.Incident, error)
}

type dashboardResponse struct {
	Summary   stats.Summary `json:"summary"`
	Incidents stats.Result  `json:"incidents"`
}

// NewDashboardHandler returns an http.HandlerFunc for GET /api/v1/dashboard.
// Query parameters: search, status, sort (createdAt|severity), order
// (asc|desc), page, per_page.
func NewDashboardHandler(api IncidentLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		query := stats.Query{
			Search:  q.Get("search"),
			Status:  models.IncidentStatus(strings.ToUpper(q.Get("status"))),
			SortBy:  stats.SortField(q.Get("sort")),
			Asc:     strings.EqualFold(q.Get("order"), "asc"),
			Page:    queryInt(q.Get("page"), 1),
			PerPage: queryInt(q.Get("per_page"), stats.DefaultPerPage),
		}
		if query.SortBy != "" && query.SortBy != stats.SortByCreatedAt && query.SortBy != stats.SortBySeverity {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "sort must be createdAt or severity", nil)
			return
		}
		if query.PerPage > 100 {
			query.PerPage = 100
		}

		incidents, err := api.ListAllIncidents(r.Context(), incidentFetchPageSize)
		if err != nil {
			switch {
			case errors.Is(err, niletrace.ErrUnauthorized):
				response.Error(w, http.StatusBadGateway, "UPSTREAM_UNAUTHORIZED",
					"The agent's NileTrace token was rejected", nil)
			case errors.Is(err, niletrace.ErrUnreachable), errors.Is(err, niletrace.ErrTimeout):
				response.Error(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE",
					"The NileTrace API is not reachable", nil)
			default:
				slog.Error("failed to load incidents", "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, dashboardResponse{
			Summary:   stats.Summarize(incidents),
			Incidents: stats.Filter(incidents, query),
		})
	}
}
