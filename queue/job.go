// Package queue implements the toolkit's job queue facade: priority
// dispatch, delayed/scheduled jobs, retries with backoff, and lifecycle
// hooks over a pluggable Backend.
package queue

import "time"

// Status is a job's position in the dispatch state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDelayed    Status = "delayed"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// BackoffType selects the retry delay formula.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
)

// Backoff configures the retry delay computed after a handler failure, per
// §4.2.2. Compute returns a delay capped at MaxDelayMs.
type Backoff struct {
	Type        BackoffType
	BaseDelayMs int64
	MaxDelayMs  int64
}

// DefaultBackoff is used when a job is added without one: a fixed 1s delay.
func DefaultBackoff() Backoff {
	return Backoff{Type: BackoffFixed, BaseDelayMs: 1000, MaxDelayMs: 30000}
}

// Compute returns the delay to apply after `attempts` failed attempts
// (1-indexed: the delay before the Nth retry, i.e. after N failures).
func (b Backoff) Compute(attempts int) time.Duration {
	var ms int64
	switch b.Type {
	case BackoffLinear:
		ms = b.BaseDelayMs * int64(attempts)
	case BackoffExponential:
		ms = b.BaseDelayMs * (1 << uint(attempts-1))
	default:
		ms = b.BaseDelayMs
	}
	if b.MaxDelayMs > 0 && ms > b.MaxDelayMs {
		ms = b.MaxDelayMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Job is one unit of work tracked by the queue, mirroring the column set
// §6.2 requires of the database backend so every backend can represent the
// same record.
type Job struct {
	ID          string
	Queue       string
	Payload     []byte
	Result      []byte
	Error       string
	Status      Status
	Priority    int
	Attempts    int
	MaxAttempts int
	Backoff     Backoff
	EarliestRun time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
	Progress    int  // advisory, set via UpdateJob; never affects dispatch
	Missed      bool // set by the recurring scheduler for a missed firing
	seq         uint64
}

// Seq returns the job's insertion sequence number, used by backends to
// break ties among jobs with identical priority, earliestRun, and
// creation instant, per §4.2.2.
func (j *Job) Seq() uint64 { return j.seq }

// SetSeq assigns the job's insertion sequence number. Backends call this
// once, at enqueue time.
func (j *Job) SetSeq(seq uint64) { j.seq = seq }

// AddOptions configures Add/Schedule, per §4.2.1.
type AddOptions struct {
	Priority    int
	DelayMs     int64
	MaxAttempts int
	Backoff     Backoff
	// Missed marks a job enqueued by the recurring scheduler for a firing
	// that was already overdue when evaluated, rather than replayed once
	// per skipped tick.
	Missed bool
}

// UpdateFields lists the only fields a caller may write via UpdateJob,
// per §4.2.1: attempts and timestamps are never user-writable. Abandon
// requests the one allow-listed status transition (pending/delayed ->
// failed, for manual abandonment of a job that hasn't been claimed yet);
// any other transition is rejected.
type UpdateFields struct {
	Progress *int
	Data     []byte
	Abandon  bool
}
