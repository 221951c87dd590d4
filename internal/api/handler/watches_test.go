package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/niletrace/internal/poller"
	"github.com/kiranshivaraju/niletrace/internal/store"
	"github.com/kiranshivaraju/niletrace/internal/watch"
	"github.com/kiranshivaraju/niletrace/pkg/models"
)

type mockWatchService struct {
	startFn    func(jobID, incidentID string) (*models.Watch, bool, error)
	getFn      func(id uuid.UUID) (*models.Watch, error)
	listFn     func(filter store.WatchFilter) ([]*models.Watch, int, error)
	stopFn     func(id uuid.UUID) (*models.Watch, error)
	snapshotFn func(jobID string) (*models.AnalysisJob, bool, error)
}

func (m *mockWatchService) Start(_ context.Context, jobID, incidentID string) (*models.Watch, bool, error) {
	return m.startFn(jobID, incidentID)
}

func (m *mockWatchService) Get(_ context.Context, id uuid.UUID) (*models.Watch, error) {
	return m.getFn(id)
}

func (m *mockWatchService) List(_ context.Context, filter store.WatchFilter) ([]*models.Watch, int, error) {
	return m.listFn(filter)
}

func (m *mockWatchService) Stop(_ context.Context, id uuid.UUID) (*models.Watch, error) {
	return m.stopFn(id)
}

func (m *mockWatchService) Snapshot(_ context.Context, jobID string) (*models.AnalysisJob, bool, error) {
	if m.snapshotFn == nil {
		return nil, false, nil
	}
	return m.snapshotFn(jobID)
}

func pollingWatch(jobID string) *models.Watch {
	now := time.Now().UTC()
	return &models.Watch{
		ID:        uuid.New(),
		JobID:     jobID,
		State:     models.WatchStatePolling,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateWatch_New(t *testing.T) {
	var gotJob, gotIncident string
	svc := &mockWatchService{startFn: func(jobID, incidentID string) (*models.Watch, bool, error) {
		gotJob, gotIncident = jobID, incidentID
		return pollingWatch(jobID), true, nil
	}}

	rec := serve(NewCreateWatchHandler(svc), jsonRequest(t, http.MethodPost, "/api/v1/watches",
		map[string]string{"job_id": "job-1", "incident_id": "inc-9"}))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "job-1", gotJob)
	assert.Equal(t, "inc-9", gotIncident)

	var w models.Watch
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &w))
	assert.Equal(t, "job-1", w.JobID)
	assert.Equal(t, models.WatchStatePolling, w.State)
}

func TestCreateWatch_ExistingReturnsOK(t *testing.T) {
	svc := &mockWatchService{startFn: func(jobID, _ string) (*models.Watch, bool, error) {
		return pollingWatch(jobID), false, nil
	}}

	rec := serve(NewCreateWatchHandler(svc), jsonRequest(t, http.MethodPost, "/api/v1/watches",
		map[string]string{"job_id": "job-1"}))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateWatch_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		err      error
		wantCode int
		wantErr  string
	}{
		{"invalid json", "{not json", nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"empty job id", map[string]string{"job_id": ""}, poller.ErrEmptyJobID, http.StatusBadRequest, "INVALID_REQUEST"},
		{"polling disabled", map[string]string{"job_id": "j"}, watch.ErrPollingDisabled, http.StatusServiceUnavailable, "POLLING_DISABLED"},
		{"shutting down", map[string]string{"job_id": "j"}, watch.ErrShuttingDown, http.StatusServiceUnavailable, "SHUTTING_DOWN"},
		{"store failure", map[string]string{"job_id": "j"}, errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockWatchService{startFn: func(string, string) (*models.Watch, bool, error) {
				return nil, false, tt.err
			}}

			rec := serve(NewCreateWatchHandler(svc), jsonRequest(t, http.MethodPost, "/api/v1/watches", tt.body))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeEnvelope(t, rec).Error.Code)
		})
	}
}

func TestListWatches_PassesFilterAndMeta(t *testing.T) {
	var got store.WatchFilter
	svc := &mockWatchService{listFn: func(filter store.WatchFilter) ([]*models.Watch, int, error) {
		got = filter
		return []*models.Watch{pollingWatch("job-1")}, 7, nil
	}}

	rec := serve(NewListWatchesHandler(svc),
		jsonRequest(t, http.MethodGet, "/api/v1/watches?state=polling&job_id=job-1&page=2&limit=3", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.WatchFilter{State: "polling", JobID: "job-1", Page: 2, Limit: 3}, got)

	env := decodeEnvelope(t, rec)
	assert.EqualValues(t, 7, env.Meta["total"])
	assert.EqualValues(t, 2, env.Meta["page"])
	assert.Equal(t, true, env.Meta["has_next"])
}

func TestListWatches_ClampsPaging(t *testing.T) {
	var got store.WatchFilter
	svc := &mockWatchService{listFn: func(filter store.WatchFilter) ([]*models.Watch, int, error) {
		got = filter
		return nil, 0, nil
	}}

	rec := serve(NewListWatchesHandler(svc), jsonRequest(t, http.MethodGet, "/api/v1/watches?page=-1&limit=1000", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, got.Page)
	assert.Equal(t, 100, got.Limit)
	assert.JSONEq(t, `[]`, string(decodeEnvelope(t, rec).Data))
}

func TestListWatches_InvalidState(t *testing.T) {
	svc := &mockWatchService{}

	rec := serve(NewListWatchesHandler(svc), jsonRequest(t, http.MethodGet, "/api/v1/watches?state=exploded", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWatch_IncludesSnapshot(t *testing.T) {
	w := pollingWatch("job-1")
	svc := &mockWatchService{
		getFn: func(id uuid.UUID) (*models.Watch, error) {
			assert.Equal(t, w.ID, id)
			return w, nil
		},
		snapshotFn: func(jobID string) (*models.AnalysisJob, bool, error) {
			return &models.AnalysisJob{JobID: jobID, Status: models.JobStatusProcessing}, true, nil
		},
	}

	r := withURLParam(jsonRequest(t, http.MethodGet, "/api/v1/watches/"+w.ID.String(), nil), "watchID", w.ID.String())
	rec := serve(NewGetWatchHandler(svc), r)

	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		ID  uuid.UUID          `json:"id"`
		Job models.AnalysisJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	assert.Equal(t, w.ID, data.ID)
	assert.Equal(t, models.JobStatusProcessing, data.Job.Status)
}

func TestGetWatch_Errors(t *testing.T) {
	svc := &mockWatchService{getFn: func(uuid.UUID) (*models.Watch, error) { return nil, store.ErrNotFound }}

	t.Run("invalid id", func(t *testing.T) {
		r := withURLParam(jsonRequest(t, http.MethodGet, "/api/v1/watches/nope", nil), "watchID", "nope")
		rec := serve(NewGetWatchHandler(svc), r)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_WATCH_ID", decodeEnvelope(t, rec).Error.Code)
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.NewString()
		r := withURLParam(jsonRequest(t, http.MethodGet, "/api/v1/watches/"+id, nil), "watchID", id)
		rec := serve(NewGetWatchHandler(svc), r)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "WATCH_NOT_FOUND", decodeEnvelope(t, rec).Error.Code)
	})
}

func TestStopWatch(t *testing.T) {
	w := pollingWatch("job-1")

	t.Run("cancels", func(t *testing.T) {
		svc := &mockWatchService{stopFn: func(uuid.UUID) (*models.Watch, error) {
			stopped := *w
			stopped.State = models.WatchStateCancelled
			return &stopped, nil
		}}
		r := withURLParam(jsonRequest(t, http.MethodDelete, "/", nil), "watchID", w.ID.String())
		rec := serve(NewStopWatchHandler(svc), r)

		require.Equal(t, http.StatusOK, rec.Code)
		var got models.Watch
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &got))
		assert.Equal(t, models.WatchStateCancelled, got.State)
	})

	t.Run("already finished", func(t *testing.T) {
		svc := &mockWatchService{stopFn: func(uuid.UUID) (*models.Watch, error) {
			done := *w
			done.State = models.WatchStateSucceeded
			return &done, watch.ErrAlreadyFinished
		}}
		r := withURLParam(jsonRequest(t, http.MethodDelete, "/", nil), "watchID", w.ID.String())
		rec := serve(NewStopWatchHandler(svc), r)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "WATCH_FINISHED", decodeEnvelope(t, rec).Error.Code)
	})

	t.Run("not found", func(t *testing.T) {
		svc := &mockWatchService{stopFn: func(uuid.UUID) (*models.Watch, error) { return nil, store.ErrNotFound }}
		r := withURLParam(jsonRequest(t, http.MethodDelete, "/", nil), "watchID", w.ID.String())
		rec := serve(NewStopWatchHandler(svc), r)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
