package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	WatchStatePolling   = "polling"
	WatchStateSucceeded = "succeeded"
	WatchStateFailed    = "failed"
	WatchStateTimedOut  = "timed_out"
	WatchStateCancelled = "cancelled"
)

// Watch records one agent-side polling session for an analysis job.
// It is created in the polling state and moves exactly once to a terminal state.
type Watch struct {
	ID             uuid.UUID  `db:"id"              json:"id"`
	JobID          string     `db:"job_id"          json:"job_id"`
	IncidentID     *string    `db:"incident_id"     json:"incident_id,omitempty"`
	State          string     `db:"state"           json:"state"`
	JobStatus      string     `db:"job_status"      json:"job_status,omitempty"`
	Attempts       int        `db:"attempts"        json:"attempts"`
	ErrorMessage   *string    `db:"error_message"   json:"error_message,omitempty"`
	MarkdownReport *string    `db:"markdown_report" json:"markdown_report,omitempty"`
	StartedAt      time.Time  `db:"started_at"      json:"started_at"`
	FinishedAt     *time.Time `db:"finished_at"     json:"finished_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"      json:"updated_at"`
}

// Active reports whether the watch is still polling.
func (w *Watch) Active() bool {
	return w.State == WatchStatePolling
}
