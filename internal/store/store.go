package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/niletrace/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid watch state transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateWatch(ctx context.Context, w *models.Watch) error
	GetWatch(ctx context.Context, id uuid.UUID) (*models.Watch, error)
	GetActiveWatchByJobID(ctx context.Context, jobID string) (*models.Watch, error)
	ListWatches(ctx context.Context, filter WatchFilter) ([]*models.Watch, int, error)
	UpdateWatchProgress(ctx context.Context, id uuid.UUID, jobStatus string, attempts int) error
	FinishWatch(ctx context.Context, id uuid.UUID, state string, opts ...WatchUpdateOption) error
	CancelActiveWatches(ctx context.Context, reason string) (int64, error)
}

type WatchFilter struct {
	State string
	JobID string
	Page  int
	Limit int
}

// WatchUpdate holds the optional fields written when a watch finishes.
// Nil fields are left unchanged.
type WatchUpdate struct {
	JobStatus      *string
	Attempts       *int
	ErrorMessage   *string
	MarkdownReport *string
}

type WatchUpdateOption func(*WatchUpdate)

// NewWatchUpdate applies opts to an empty WatchUpdate.
func NewWatchUpdate(opts ...WatchUpdateOption) WatchUpdate {
	var u WatchUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithJobStatus(status string) WatchUpdateOption {
	return func(p *WatchUpdate) {
		p.JobStatus = &status
	}
}

func WithAttempts(n int) WatchUpdateOption {
	return func(p *WatchUpdate) {
		p.Attempts = &n
	}
}

func WithErrorMessage(msg string) WatchUpdateOption {
	return func(p *WatchUpdate) {
		p.ErrorMessage = &msg
	}
}

func WithMarkdownReport(report string) WatchUpdateOption {
	return func(p *WatchUpdate) {
		p.MarkdownReport = &report
	}
}

// IsTerminalWatchState reports whether state is one a watch can finish in.
func IsTerminalWatchState(state string) bool {
	switch state {
	case models.WatchStateSucceeded, models.WatchStateFailed,
		models.WatchStateTimedOut, models.WatchStateCancelled:
		return true
	}
	return false
}
