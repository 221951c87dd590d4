package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/niletrace/internal/api/response"
	"github.com/kiranshivaraju/niletrace/internal/poller"
	"github.com/kiranshivaraju/niletrace/internal/store"
	"github.com/kiranshivaraju/niletrace/internal/watch"
	"github.com/kiranshivaraju/niletrace/pkg/models"
)

// WatchService is the subset of watch.Service the handlers depend on.
type WatchService interface {
	Start(ctx context.Context, jobID, incidentID string) (*models.Watch, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Watch, error)
	List(ctx context.Context, filter store.WatchFilter) ([]*models.Watch, int, error)
	Stop(ctx context.Context, id uuid.UUID) (*models.Watch, error)
	Snapshot(ctx context.Context, jobID string) (*models.AnalysisJob, bool, error)
}

type watchResponse struct {
	*models.Watch
	Job *models.AnalysisJob `json:"job,omitempty"`
}

// NewCreateWatchHandler returns an http.HandlerFunc for POST /api/v1/watches.
// A new watch answers 202; an existing active watch for the job answers 200.
func NewCreateWatchHandler(svc WatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JobID      string `json:"job_id"`
			IncidentID string `json:"incident_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		wt, created, err := svc.Start(r.Context(), req.JobID, req.IncidentID)
		if err != nil {
			switch {
			case errors.Is(err, poller.ErrEmptyJobID):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_id is required", nil)
			case errors.Is(err, watch.ErrPollingDisabled):
				response.Error(w, http.StatusServiceUnavailable, "POLLING_DISABLED", "Polling is disabled on this agent", nil)
			case errors.Is(err, watch.ErrShuttingDown):
				response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Agent is shutting down", nil)
			default:
				slog.Error("failed to start watch", "job_id", req.JobID, "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start watch", nil)
			}
			return
		}

		if created {
			response.Accepted(w, wt)
			return
		}
		response.JSON(w, wt)
	}
}

// NewListWatchesHandler returns an http.HandlerFunc for GET /api/v1/watches.
func NewListWatchesHandler(svc WatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		state := q.Get("state")
		if state != "" && state != models.WatchStatePolling && !store.IsTerminalWatchState(state) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "state is not a valid watch state", nil)
			return
		}

		page := queryInt(q.Get("page"), 1)
		if page < 1 {
			page = 1
		}
		limit := queryInt(q.Get("limit"), 20)
		if limit < 1 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		watches, total, err := svc.List(r.Context(), store.WatchFilter{
			State: state,
			JobID: q.Get("job_id"),
			Page:  page,
			Limit: limit,
		})
		if err != nil {
			slog.Error("failed to list watches", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list watches", nil)
			return
		}
		if watches == nil {
			watches = []*models.Watch{}
		}

		response.Collection(w, watches, response.NewPaginationMeta(page, limit, total))
	}
}

// NewGetWatchHandler returns an http.HandlerFunc for GET /api/v1/watches/{watchID}.
// The latest cached job record is attached when available.
func NewGetWatchHandler(svc WatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := watchIDParam(w, r)
		if !ok {
			return
		}

		wt, err := svc.Get(r.Context(), id)
		if err != nil {
			writeWatchLookupError(w, err)
			return
		}

		resp := watchResponse{Watch: wt}
		if job, found, err := svc.Snapshot(r.Context(), wt.JobID); err == nil && found {
			resp.Job = job
		}
		response.JSON(w, resp)
	}
}

// NewStopWatchHandler returns an http.HandlerFunc for DELETE /api/v1/watches/{watchID}.
func NewStopWatchHandler(svc WatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := watchIDParam(w, r)
		if !ok {
			return
		}

		wt, err := svc.Stop(r.Context(), id)
		if err != nil {
			if errors.Is(err, watch.ErrAlreadyFinished) {
				response.Error(w, http.StatusConflict, "WATCH_FINISHED",
					"Watch has already finished", map[string]string{"state": wt.State})
				return
			}
			writeWatchLookupError(w, err)
			return
		}
		response.JSON(w, wt)
	}
}

func watchIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "watchID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_WATCH_ID", "Invalid watch ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func writeWatchLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "WATCH_NOT_FOUND", "Watch not found", nil)
		return
	}
	slog.Error("watch lookup failed", "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
