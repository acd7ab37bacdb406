package queue

import (
	"context"
	"time"
)

// Backend is the capability set a queue storage engine must provide, so
// the same dispatcher loop runs unmodified over the in-memory, Redis, and
// database variants.
//
// Claim must be atomic across every dispatcher sharing the same backend:
// exactly one caller may claim a given job, per §4.2.2's "atomic claim
// property".
type Backend interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Enqueue inserts job as pending (if EarliestRun <= now) or delayed.
	Enqueue(ctx context.Context, job *Job) error

	// Claim atomically selects the highest-priority ready job for queue
	// (status=pending, earliestRun<=now), ordered by
	// (priority DESC, earliestRun ASC, creation ASC, insertion ASC), marks
	// it processing, and returns it. The job stays stored. found is false
	// if no ready job exists.
	Claim(ctx context.Context, queue string) (job *Job, found bool, err error)

	// Complete marks job as completed and stores result.
	Complete(ctx context.Context, queue, id string, result []byte) error

	// Reschedule records a handler failure: increments attempts, and
	// either marks the job failed with errMsg, or moves it back to
	// pending/delayed with the given earliestRun.
	Reschedule(ctx context.Context, queue, id string, errMsg string, terminal bool, nextRun time.Time) error

	// Get returns the job by id. found is false if absent.
	Get(ctx context.Context, queue, id string) (job *Job, found bool, err error)

	// Update applies an already-validated UpdateFields to the job. ok is
	// false if the job does not exist, or (when abandoning) is not in a
	// state that allows the transition.
	Update(ctx context.Context, queue, id string, fields UpdateFields) (ok bool, err error)

	// Remove deletes the job outright. removed is false if it did not
	// exist.
	Remove(ctx context.Context, queue, id string) (removed bool, err error)

	// PromoteDelayed moves every delayed job for queue whose earliestRun
	// has passed into pending. Called by the periodic promoter described
	// in §4.2.3.
	PromoteDelayed(ctx context.Context, queue string, now time.Time) error

	// QueueInfo returns a count per status for queue.
	QueueInfo(ctx context.Context, queue string) (QueueCounts, error)

	// JobsByStatus lists up to limit jobs for queue in the given status,
	// newest first.
	JobsByStatus(ctx context.Context, queue string, status Status, limit int) ([]*Job, error)

	// Retry moves a failed job back to pending with attempts reset to 0.
	// ok is false if the job is absent or not currently failed.
	Retry(ctx context.Context, queue, id string) (ok bool, err error)

	// Clean removes up to limit jobs for queue in the given status whose
	// UpdatedAt is older than olderThan, returning how many were removed.
	Clean(ctx context.Context, queue string, olderThan time.Time, status Status, limit int) (int, error)

	// RevertInFlight moves every processing job for queue back to pending
	// without touching attempts, for stop()'s shutdown-timeout path.
	RevertInFlight(ctx context.Context, queue string) error
}

// QueueCounts is the per-status job count returned by getQueueInfo.
type QueueCounts struct {
	Pending    int
	Delayed    int
	Processing int
	Completed  int
	Failed     int
}

// Factory constructs a Backend from a connection URL, as registered by
// RegisterBackend.
type Factory func(url string) (Backend, error)

var registry = map[string]Factory{}

// RegisterBackend adds name to the backend registry, mirroring
// cache.RegisterBackend's database/sql-style driver registration.
func RegisterBackend(name string, factory Factory) {
	registry[name] = factory
}

// NewBackend constructs the backend registered under name.
func NewBackend(name, url string) (Backend, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, ErrUnknownBackend(name)
	}
	return factory(url)
}
