package poller

import "errors"

// defaultFailureMessage is reported when a job fails without saying why.
const defaultFailureMessage = "Analysis failed"

// jobFailureMessage is PollJob's fallback for the same case.
const jobFailureMessage = "Analysis job failed"

var (
	// ErrPollingTimedOut ends a session whose job never reached a terminal
	// status within the configured number of attempts.
	ErrPollingTimedOut = errors.New("Analysis polling timed out")

	// ErrJobFailed matches every *JobFailedError via errors.Is.
	ErrJobFailed = errors.New("analysis job failed")

	ErrEmptyJobID       = errors.New("job id is required")
	ErrPollingCancelled = errors.New("analysis polling cancelled")

	errEmptyRecord = errors.New("empty job status response")
)

// JobFailedError is returned when the remote job itself reports FAILED.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string { return e.Message }

func (e *JobFailedError) Is(target error) bool { return target == ErrJobFailed }

// TransportError wraps a failed status request (network, decoding, non-2xx).
// Its message is the underlying error's message.
type TransportError struct {
	JobID string
	Err   error
}

func (e *TransportError) Error() string { return e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }
