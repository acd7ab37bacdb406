package queue

import (
	"context"
	"errors"
)

// Handler processes one job. It may return a plain error (retryable, per
// the backoff decision in §4.2.2) or one wrapped with NonRetryable to mark
// the job failed immediately regardless of remaining attempts.
type Handler func(ctx context.Context, job *Job) (result any, err error)

type nonRetryableError struct{ cause error }

func (e *nonRetryableError) Error() string { return e.cause.Error() }
func (e *nonRetryableError) Unwrap() error { return e.cause }

// NonRetryable wraps err so the dispatcher marks the job failed on this
// attempt instead of scheduling a retry, even if attempts remain.
func NonRetryable(err error) error {
	return &nonRetryableError{cause: err}
}

// IsNonRetryable reports whether err (or a wrapped cause) was marked
// non-retryable by a handler.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}

// ProcessOptions configures Process, per §4.2.1 and §4.2.5.
type ProcessOptions struct {
	Concurrency int

	OnStart     func(jobID string)
	OnProgress  func(jobID string, percent int)
	OnCompleted func(jobID string, result any)
	OnFailed    func(jobID string, err error)
}
