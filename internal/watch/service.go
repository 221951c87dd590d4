// Package watch runs agent-side pollers for analysis jobs and records their
// outcome.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/niletrace/internal/config"
	"github.com/kiranshivaraju/niletrace/internal/poller"
	"github.com/kiranshivaraju/niletrace/internal/store"
	"github.com/kiranshivaraju/niletrace/pkg/models"
)

const (
	defaultSnapshotTTL = 24 * time.Hour
	writeTimeout       = 5 * time.Second
)

var (
	ErrAlreadyFinished = errors.New("watch already finished")
	ErrPollingDisabled = errors.New("polling is disabled")
	ErrShuttingDown    = errors.New("watch service is shutting down")
)

// Store is the persistence the service needs. store.PostgresStore satisfies it.
type Store interface {
	CreateWatch(ctx context.Context, w *models.Watch) error
	GetWatch(ctx context.Context, id uuid.UUID) (*models.Watch, error)
	GetActiveWatchByJobID(ctx context.Context, jobID string) (*models.Watch, error)
	ListWatches(ctx context.Context, filter store.WatchFilter) ([]*models.Watch, int, error)
	UpdateWatchProgress(ctx context.Context, id uuid.UUID, jobStatus string, attempts int) error
	FinishWatch(ctx context.Context, id uuid.UUID, state string, opts ...store.WatchUpdateOption) error
}

// SnapshotCache holds the latest job record seen by each watch.
type SnapshotCache interface {
	SetJobSnapshot(ctx context.Context, job *models.AnalysisJob, ttl time.Duration) error
	GetJobSnapshot(ctx context.Context, jobID string) (*models.AnalysisJob, bool, error)
}

// Service owns one poller per active watch.
type Service struct {
	store       Store
	cache       SnapshotCache
	fetcher     poller.StatusFetcher
	cfg         config.PollConfig
	snapshotTTL time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	pollers map[uuid.UUID]*poller.Poller
	closed  bool
	wg      sync.WaitGroup
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSnapshotTTL sets how long job snapshots stay cached.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.snapshotTTL = ttl
		}
	}
}

// NewService creates a Service. cfg supplies the interval, attempt budget
// and enabled gate for every poller it starts.
func NewService(st Store, c SnapshotCache, fetcher poller.StatusFetcher, cfg config.PollConfig, opts ...Option) *Service {
	s := &Service{
		store:       st,
		cache:       c,
		fetcher:     fetcher,
		cfg:         cfg,
		snapshotTTL: defaultSnapshotTTL,
		logger:      slog.Default(),
		pollers:     make(map[uuid.UUID]*poller.Poller),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start watches jobID. If an active watch already tracks the job it is
// returned with created=false and no new poller is started.
func (s *Service) Start(ctx context.Context, jobID, incidentID string) (w *models.Watch, created bool, err error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, false, poller.ErrEmptyJobID
	}
	if !s.cfg.Enabled {
		return nil, false, ErrPollingDisabled
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, false, ErrShuttingDown
	}

	existing, err := s.store.GetActiveWatchByJobID(ctx, jobID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup active watch: %w", err)
	}

	now := time.Now().UTC()
	w = &models.Watch{
		ID:        uuid.New(),
		JobID:     jobID,
		State:     models.WatchStatePolling,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if incidentID = strings.TrimSpace(incidentID); incidentID != "" {
		w.IncidentID = &incidentID
	}

	if err := s.store.CreateWatch(ctx, w); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			// lost a race with a concurrent Start for the same job
			existing, getErr := s.store.GetActiveWatchByJobID(ctx, jobID)
			if getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("create watch: %w", err)
	}

	p := s.newPoller(w)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.finish(w.ID, poller.State{Phase: poller.PhaseCancelled, JobID: jobID})
		return nil, false, ErrShuttingDown
	}
	s.pollers[w.ID] = p
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("watch started", "watch_id", w.ID, "job_id", jobID)
	p.Start(jobID)
	return w, true, nil
}

func (s *Service) newPoller(w *models.Watch) *poller.Poller {
	var p *poller.Poller
	p = poller.New(s.fetcher,
		poller.WithInterval(s.cfg.Interval),
		poller.WithMaxAttempts(s.cfg.MaxAttempts),
		poller.WithLogger(s.logger),
		poller.WithOnProgress(func(job *models.AnalysisJob) {
			s.recordProgress(w.ID, job, p.State().Attempts)
		}),
		poller.WithOnDone(func(st poller.State) {
			defer s.release(w.ID)
			s.finish(w.ID, st)
		}),
	)
	return p
}

func (s *Service) recordProgress(id uuid.UUID, job *models.AnalysisJob, attempts int) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if job.JobID != "" {
		_ = s.cache.SetJobSnapshot(ctx, job, s.snapshotTTL) // best-effort
	}

	err := s.store.UpdateWatchProgress(ctx, id, string(job.Status), attempts)
	if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		s.logger.Warn("failed to record watch progress", "watch_id", id, "error", err)
	}
}

// finish persists the terminal state of a poller session.
func (s *Service) finish(id uuid.UUID, st poller.State) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	opts := []store.WatchUpdateOption{store.WithAttempts(st.Attempts)}
	if st.Job != nil {
		opts = append(opts, store.WithJobStatus(string(st.Job.Status)))
		if st.Phase == poller.PhaseSucceeded && st.Job.MarkdownReport != "" {
			opts = append(opts, store.WithMarkdownReport(st.Job.MarkdownReport))
		}
	}
	if msg := st.ErrorMessage(); msg != "" {
		opts = append(opts, store.WithErrorMessage(msg))
	}

	state := StateForPhase(st.Phase)
	err := s.store.FinishWatch(ctx, id, state, opts...)
	switch {
	case err == nil:
		s.logger.Info("watch finished", "watch_id", id, "job_id", st.JobID, "state", state, "attempts", st.Attempts)
	case errors.Is(err, store.ErrInvalidTransition):
		s.logger.Debug("watch already finished", "watch_id", id)
	default:
		s.logger.Error("failed to finish watch", "watch_id", id, "state", state, "error", err)
	}
}

func (s *Service) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pollers[id]; ok {
		delete(s.pollers, id)
		s.wg.Done()
	}
}

// StateForPhase maps a finished poller phase to the stored watch state.
func StateForPhase(phase poller.Phase) string {
	switch phase {
	case poller.PhaseSucceeded:
		return models.WatchStateSucceeded
	case poller.PhaseFailed:
		return models.WatchStateFailed
	case poller.PhaseTimedOut:
		return models.WatchStateTimedOut
	case poller.PhaseCancelled:
		return models.WatchStateCancelled
	default:
		return models.WatchStatePolling
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Watch, error) {
	return s.store.GetWatch(ctx, id)
}

func (s *Service) List(ctx context.Context, filter store.WatchFilter) ([]*models.Watch, int, error) {
	return s.store.ListWatches(ctx, filter)
}

// Snapshot returns the latest cached record for jobID.
func (s *Service) Snapshot(ctx context.Context, jobID string) (*models.AnalysisJob, bool, error) {
	return s.cache.GetJobSnapshot(ctx, jobID)
}

// Stop cancels an active watch and returns it in its final state.
func (s *Service) Stop(ctx context.Context, id uuid.UUID) (*models.Watch, error) {
	w, err := s.store.GetWatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !w.Active() {
		return w, ErrAlreadyFinished
	}

	s.mu.Lock()
	p, running := s.pollers[id]
	s.mu.Unlock()

	if running {
		// the session may also be ending on its own; either way its done
		// callback has persisted the outcome once Wait returns
		p.Stop()
		if _, err := p.Wait(ctx); err != nil {
			return nil, fmt.Errorf("stop watch: %w", err)
		}
	} else {
		// orphaned by a restart
		err := s.store.FinishWatch(ctx, id, models.WatchStateCancelled)
		if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
			return nil, fmt.Errorf("cancel watch: %w", err)
		}
	}

	return s.store.GetWatch(ctx, id)
}

// Active returns the number of running pollers.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pollers)
}

// Shutdown stops every poller and waits for their outcomes to be recorded,
// or for ctx to end. No watches can be started afterwards.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	running := make([]*poller.Poller, 0, len(s.pollers))
	for _, p := range s.pollers {
		running = append(running, p)
	}
	s.mu.Unlock()

	for _, p := range running {
		p.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
