// Package poller polls an analysis job's status until the job reaches a
// terminal state, the attempt budget is exhausted, or the caller stops it.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/niletrace/pkg/models"
)

// StatusFetcher fetches the current record for a job.
type StatusFetcher interface {
	GetJobStatus(ctx context.Context, jobID string) (*models.AnalysisJob, error)
}

// FetcherFunc adapts a function to StatusFetcher.
type FetcherFunc func(ctx context.Context, jobID string) (*models.AnalysisJob, error)

func (f FetcherFunc) GetJobStatus(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	return f(ctx, jobID)
}

// Phase is the poller's position in its state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePolling
	PhaseSucceeded
	PhaseFailed
	PhaseTimedOut
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePolling:
		return "polling"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	case PhaseTimedOut:
		return "timed_out"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// State is a snapshot of what the poller exposes to callers.
// A finished session carries either a completed Job or an Err, never both
// as its outcome; a cancelled session carries neither.
type State struct {
	Phase    Phase
	JobID    string
	Job      *models.AnalysisJob
	Attempts int
	Err      error
}

func (s State) IsPolling() bool { return s.Phase == PhasePolling }

// ErrorMessage returns the user-facing error text, or "" when there is no error.
func (s State) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// session is one Start..termination lifecycle.
type session struct {
	gen    uint64
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}
	final  State

	// delivering is set while a progress callback for this session runs.
	// A finish that lands meanwhile is parked in pending and reported by
	// the delivering goroutine once the callback returns.
	delivering bool
	pending    *finished
}

// Poller tracks at most one polling session at a time. Starting a new
// session invalidates the previous one; responses that arrive for an
// invalidated session are discarded.
//
// Poller is safe for concurrent use.
type Poller struct {
	fetcher     StatusFetcher
	interval    time.Duration
	maxAttempts int
	failureMsg  string
	onProgress  func(*models.AnalysisJob)
	onDone      func(State)
	logger      *slog.Logger

	mu      sync.Mutex
	enabled bool
	gen     uint64
	sess    *session
	state   State
}

// New creates an idle Poller.
func New(fetcher StatusFetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher:     fetcher,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		failureMsg:  defaultFailureMessage,
		enabled:     true,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns a snapshot of the current observable state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start begins polling jobID, replacing any session already running.
// The first request is issued immediately.
func (p *Poller) Start(jobID string) {
	p.StartContext(context.Background(), jobID)
}

// StartContext is Start with a parent context; cancelling ctx cancels the session.
func (p *Poller) StartContext(ctx context.Context, jobID string) {
	p.mu.Lock()
	var superseded *finished
	if p.sess != nil && p.state.Phase == PhasePolling {
		superseded = p.finishLocked(PhaseCancelled, nil)
	}

	p.gen++
	sessCtx, cancel := context.WithCancel(ctx)
	s := &session{
		gen:    p.gen,
		jobID:  jobID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.sess = s
	p.state = State{Phase: PhasePolling, JobID: jobID}

	var final *finished
	switch {
	case jobID == "":
		final = p.finishLocked(PhaseFailed, ErrEmptyJobID)
	case !p.enabled:
		final = p.finishLocked(PhaseCancelled, nil)
	}
	p.mu.Unlock()

	if superseded != nil {
		p.notifyDone(superseded)
	}
	if final != nil {
		p.notifyDone(final)
		return
	}

	p.logger.Debug("polling started", "job_id", jobID, "interval", p.interval, "max_attempts", p.maxAttempts)
	go p.run(sessCtx, s)
}

// Stop ends the current session. It is idempotent and safe to call when
// nothing is polling. The done callback normally runs before Stop returns;
// if a progress callback is running at that moment, it runs right after
// that callback instead. Use Wait to block until it has run.
func (p *Poller) Stop() {
	p.mu.Lock()
	var final *finished
	if p.sess != nil && p.state.Phase == PhasePolling {
		final = p.finishLocked(PhaseCancelled, nil)
	}
	p.mu.Unlock()

	if final != nil {
		p.notifyDone(final)
	}
}

// SetEnabled toggles the enabled gate. Disabling stops the current session.
func (p *Poller) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
	if !enabled {
		p.Stop()
	}
}

// Wait blocks until the session that is current at call time ends and
// returns its final state. With no session it returns the current state.
func (p *Poller) Wait(ctx context.Context) (State, error) {
	p.mu.Lock()
	s := p.sess
	current := p.state
	p.mu.Unlock()

	if s == nil {
		return current, nil
	}

	select {
	case <-s.done:
		return s.final, nil
	case <-ctx.Done():
		return p.State(), ctx.Err()
	}
}

func (p *Poller) run(ctx context.Context, s *session) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		attempt, ok := p.beginAttempt(s)
		if !ok {
			return
		}

		job, err := p.fetcher.GetJobStatus(ctx, s.jobID)
		if !p.handleResult(ctx, s, attempt, job, err) {
			return
		}

		if timer == nil {
			timer = time.NewTimer(p.interval)
		} else {
			timer.Reset(p.interval)
		}
		select {
		case <-ctx.Done():
			p.cancelIfCurrent(s)
			return
		case <-timer.C:
		}
	}
}

// beginAttempt increments the attempt counter if s is still the live session.
func (p *Poller) beginAttempt(s *session) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isCurrentLocked(s) {
		return 0, false
	}
	p.state.Attempts++
	return p.state.Attempts, true
}

// handleResult applies one response and reports whether to schedule another attempt.
func (p *Poller) handleResult(ctx context.Context, s *session, attempt int, job *models.AnalysisJob, err error) bool {
	p.mu.Lock()
	if !p.isCurrentLocked(s) {
		p.mu.Unlock()
		p.logger.Debug("discarding stale poll response", "job_id", s.jobID, "attempt", attempt)
		return false
	}

	var final *finished
	switch {
	case err != nil && ctx.Err() != nil:
		final = p.finishLocked(PhaseCancelled, nil)
	case err != nil:
		final = p.finishLocked(PhaseFailed, &TransportError{JobID: s.jobID, Err: err})
	case job == nil:
		final = p.finishLocked(PhaseFailed, &TransportError{JobID: s.jobID, Err: errEmptyRecord})
	default:
		p.state.Job = job
		switch job.Status {
		case models.JobStatusCompleted:
			final = p.finishLocked(PhaseSucceeded, nil)
		case models.JobStatusFailed:
			msg := job.FailureReason()
			if msg == "" {
				msg = p.failureMsg
			}
			final = p.finishLocked(PhaseFailed, &JobFailedError{JobID: s.jobID, Message: msg})
		default:
			if attempt >= p.maxAttempts {
				final = p.finishLocked(PhaseTimedOut, ErrPollingTimedOut)
			}
		}
	}
	deliver := job != nil && err == nil
	if deliver {
		s.delivering = true
	}
	p.mu.Unlock()

	if deliver {
		p.logger.Debug("poll attempt", "job_id", s.jobID, "attempt", attempt, "status", job.Status)
		if p.onProgress != nil {
			p.onProgress(job)
		}

		p.mu.Lock()
		s.delivering = false
		if s.pending != nil {
			final, s.pending = s.pending, nil
		}
		p.mu.Unlock()
	}
	if final != nil {
		p.notifyDone(final)
		return false
	}
	return true
}

func (p *Poller) cancelIfCurrent(s *session) {
	p.mu.Lock()
	var final *finished
	if p.isCurrentLocked(s) {
		final = p.finishLocked(PhaseCancelled, nil)
	}
	p.mu.Unlock()
	if final != nil {
		p.notifyDone(final)
	}
}

func (p *Poller) isCurrentLocked(s *session) bool {
	return p.sess == s && s.gen == p.gen && p.state.Phase == PhasePolling
}

// finished is a session that has ended but whose waiters have not been released.
type finished struct {
	sess  *session
	state State
}

// finishLocked ends the current session with the given outcome and cancels
// its pending timer and in-flight request. Must hold p.mu; the caller must
// pass a non-nil result to notifyDone after unlocking. It returns nil when a
// progress callback is running, in which case the delivering goroutine
// reports the outcome so that done is always the session's last event.
func (p *Poller) finishLocked(phase Phase, err error) *finished {
	p.state.Phase = phase
	p.state.Err = err

	s := p.sess
	s.cancel()
	s.final = p.state
	f := &finished{sess: s, state: p.state}
	if s.delivering {
		s.pending = f
		return nil
	}
	return f
}

// notifyDone runs the completion callback, then releases Wait callers.
func (p *Poller) notifyDone(f *finished) {
	defer close(f.sess.done)

	st := f.state
	switch st.Phase {
	case PhaseSucceeded:
		p.logger.Info("analysis job completed", "job_id", st.JobID, "attempts", st.Attempts)
	case PhaseCancelled:
		p.logger.Debug("polling cancelled", "job_id", st.JobID, "attempts", st.Attempts)
	default:
		p.logger.Warn("polling ended with error", "job_id", st.JobID, "phase", st.Phase.String(),
			"attempts", st.Attempts, "error", st.ErrorMessage())
	}
	if p.onDone != nil {
		p.onDone(st)
	}
}
