package poller

import (
	"context"

	"github.com/kiranshivaraju/niletrace/pkg/models"
)

// PollJob polls jobID until it completes and returns the completed record.
// It fails with a *JobFailedError, ErrPollingTimedOut or a *TransportError,
// and returns ctx.Err() if ctx ends first. A job that fails without a reason
// reports "Analysis job failed" unless WithFailureMessage says otherwise.
func PollJob(ctx context.Context, fetcher StatusFetcher, jobID string, opts ...Option) (*models.AnalysisJob, error) {
	opts = append([]Option{WithFailureMessage(jobFailureMessage)}, opts...)
	p := New(fetcher, opts...)
	p.StartContext(ctx, jobID)

	st, err := p.Wait(ctx)
	if err != nil {
		p.Stop()
		return nil, err
	}

	switch st.Phase {
	case PhaseSucceeded:
		return st.Job, nil
	case PhaseCancelled:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ErrPollingCancelled
	default:
		return nil, st.Err
	}
}
