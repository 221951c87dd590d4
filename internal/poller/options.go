package poller

import (
	"log/slog"
	"time"

	"github.com/kiranshivaraju/niletrace/pkg/models"
)

const (
	DefaultInterval    = 2000 * time.Millisecond
	DefaultMaxAttempts = 150 // ~5 minutes at the default interval
)

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the delay between attempts. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxAttempts caps the number of status requests per session. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(p *Poller) {
		if n >= 1 {
			p.maxAttempts = n
		}
	}
}

// WithFailureMessage sets the message reported when a job fails without
// giving a reason. Empty values are ignored.
func WithFailureMessage(msg string) Option {
	return func(p *Poller) {
		if msg != "" {
			p.failureMsg = msg
		}
	}
}

// WithEnabled gates whether polling may proceed at all.
func WithEnabled(enabled bool) Option {
	return func(p *Poller) { p.enabled = enabled }
}

// WithOnProgress registers a callback invoked with every record fetched by
// the current session, before its status is evaluated.
func WithOnProgress(fn func(*models.AnalysisJob)) Option {
	return func(p *Poller) { p.onProgress = fn }
}

// WithOnDone registers a callback invoked once with the final state of every session.
func WithOnDone(fn func(State)) Option {
	return func(p *Poller) { p.onDone = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}
