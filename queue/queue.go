package queue

import (
	"context"
	"sync"
	"time"

	"corekit.dev/errs"
	"corekit.dev/logging"
	"corekit.dev/serializer"
	"github.com/google/uuid"
)

// Manager is the job queue facade over a Backend: Add/Schedule/Process and
// the job-administration operations of §4.2.1.
type Manager struct {
	backend         Backend
	ser             serializer.Serializer
	log             *logging.ContextLogger
	shutdownTimeout time.Duration

	defaultMaxAttempts int
	defaultBackoff     Backoff
	defaultConcurrency int

	mu          sync.Mutex
	dispatchers map[string]*dispatcher
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

func WithSerializer(s serializer.Serializer) ManagerOption {
	return func(m *Manager) { m.ser = s }
}

func WithLogger(log *logging.ContextLogger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

func WithShutdownTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.shutdownTimeout = d }
}

func WithDefaultMaxAttempts(n int) ManagerOption {
	return func(m *Manager) { m.defaultMaxAttempts = n }
}

func WithDefaultBackoff(b Backoff) ManagerOption {
	return func(m *Manager) { m.defaultBackoff = b }
}

// WithDefaultConcurrency sets the worker concurrency Process falls back to
// when a caller's ProcessOptions.Concurrency is unset (<= 0).
func WithDefaultConcurrency(n int) ManagerOption {
	return func(m *Manager) { m.defaultConcurrency = n }
}

// NewManager builds a Manager over backend.
func NewManager(backend Backend, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend:            backend,
		ser:                serializer.NewJSON(),
		shutdownTimeout:    30 * time.Second,
		defaultMaxAttempts: 3,
		defaultBackoff:     DefaultBackoff(),
		defaultConcurrency: 1,
		dispatchers:        make(map[string]*dispatcher),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) applyDefaults(opts *AddOptions) AddOptions {
	out := AddOptions{}
	if opts != nil {
		out = *opts
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = m.defaultMaxAttempts
	}
	if out.Backoff.BaseDelayMs <= 0 {
		out.Backoff = m.defaultBackoff
	}
	return out
}

// Add enqueues payload on queue, returning the new job's id.
func (m *Manager) Add(ctx context.Context, queue string, payload any, opts *AddOptions) (string, error) {
	if queue == "" {
		return "", errs.New(errs.InvalidArgument, "queue name must not be empty")
	}
	resolved := m.applyDefaults(opts)

	data, err := m.ser.Encode(payload)
	if err != nil {
		return "", err
	}

	now := time.Now()
	earliestRun := now
	status := StatusPending
	if resolved.DelayMs > 0 {
		earliestRun = now.Add(time.Duration(resolved.DelayMs) * time.Millisecond)
		status = StatusDelayed
	}

	job := &Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Payload:     data,
		Status:      status,
		Priority:    resolved.Priority,
		MaxAttempts: resolved.MaxAttempts,
		Backoff:     resolved.Backoff,
		EarliestRun: earliestRun,
		CreatedAt:   now,
		UpdatedAt:   now,
		Missed:      resolved.Missed,
	}
	if err := m.backend.Enqueue(ctx, job); err != nil {
		return "", errs.Wrap(errs.BackendUnavailable, "enqueue job", err)
	}
	return job.ID, nil
}

// Schedule is Add with delayMs forced onto opts, per §4.2.1.
func (m *Manager) Schedule(ctx context.Context, queue string, payload any, delayMs int64, opts *AddOptions) (string, error) {
	resolved := AddOptions{}
	if opts != nil {
		resolved = *opts
	}
	resolved.DelayMs = delayMs
	return m.Add(ctx, queue, payload, &resolved)
}

// Process registers handler as the long-running worker for queue, starting
// its dispatch and delayed-job-promotion loops. It returns once the
// dispatcher goroutines are started; it does not block.
func (m *Manager) Process(ctx context.Context, queue string, handler Handler, opts *ProcessOptions) error {
	if queue == "" {
		return errs.New(errs.InvalidArgument, "queue name must not be empty")
	}

	resolved := ProcessOptions{}
	if opts != nil {
		resolved = *opts
	}
	if resolved.Concurrency <= 0 {
		resolved.Concurrency = m.defaultConcurrency
	}

	m.mu.Lock()
	if _, exists := m.dispatchers[queue]; exists {
		m.mu.Unlock()
		return errs.Newf(errs.Conflict, "queue %q already has a registered processor", queue)
	}
	d := newDispatcher(queue, m.backend, handler, resolved, m.log, m.ser)
	m.dispatchers[queue] = d
	m.mu.Unlock()

	d.start(ctx)
	return nil
}

// GetJob returns the job by id, or found=false if absent.
func (m *Manager) GetJob(ctx context.Context, queue, id string) (*Job, bool, error) {
	job, found, err := m.backend.Get(ctx, queue, id)
	if err != nil {
		return nil, false, errs.Wrap(errs.BackendUnavailable, "get job", err)
	}
	return job, found, nil
}

// DecodePayload decodes job's payload into out using the Manager's
// serializer — the thin typed wrapper §9 calls for at the facade edge.
func (m *Manager) DecodePayload(job *Job, out any) error {
	return m.ser.Decode(job.Payload, out)
}

// DecodeResult decodes job's result into out.
func (m *Manager) DecodeResult(job *Job, out any) error {
	return m.ser.Decode(job.Result, out)
}

// UpdateJob applies fields to the job, restricted to progress, data, and
// the single allow-listed abandon transition, per §4.2.1. A progress write
// is advisory — it never affects dispatch — but invokes the queue's
// onProgress hook, per §4.2.5.
func (m *Manager) UpdateJob(ctx context.Context, queue, id string, fields UpdateFields) (bool, error) {
	ok, err := m.backend.Update(ctx, queue, id, fields)
	if err != nil {
		return false, errs.Wrap(errs.BackendUnavailable, "update job", err)
	}
	if ok && fields.Progress != nil {
		m.mu.Lock()
		d, registered := m.dispatchers[queue]
		m.mu.Unlock()
		if registered && d.hooks.OnProgress != nil {
			d.hooks.OnProgress(id, *fields.Progress)
		}
	}
	return ok, nil
}

// RemoveJob deletes the job outright.
func (m *Manager) RemoveJob(ctx context.Context, queue, id string) (bool, error) {
	removed, err := m.backend.Remove(ctx, queue, id)
	if err != nil {
		return false, errs.Wrap(errs.BackendUnavailable, "remove job", err)
	}
	return removed, nil
}

// Pause halts dispatch for queue (or every registered queue if queue is
// empty). In-flight jobs run to completion.
func (m *Manager) Pause(queue string) {
	m.forEachDispatcher(queue, func(d *dispatcher) { d.paused.Store(true) })
}

// Resume resumes dispatch for queue (or every registered queue).
func (m *Manager) Resume(queue string) {
	m.forEachDispatcher(queue, func(d *dispatcher) { d.paused.Store(false) })
}

func (m *Manager) forEachDispatcher(queue string, fn func(*dispatcher)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if queue != "" {
		if d, ok := m.dispatchers[queue]; ok {
			fn(d)
		}
		return
	}
	for _, d := range m.dispatchers {
		fn(d)
	}
}

// GetQueueInfo returns a per-status job count for queue.
func (m *Manager) GetQueueInfo(ctx context.Context, queue string) (QueueCounts, error) {
	counts, err := m.backend.QueueInfo(ctx, queue)
	if err != nil {
		return QueueCounts{}, errs.Wrap(errs.BackendUnavailable, "get queue info", err)
	}
	return counts, nil
}

// GetJobsByStatus lists up to limit jobs for queue in the given status.
func (m *Manager) GetJobsByStatus(ctx context.Context, queue string, status Status, limit int) ([]*Job, error) {
	jobs, err := m.backend.JobsByStatus(ctx, queue, status, limit)
	if err != nil {
		return nil, errs.Wrap(errs.BackendUnavailable, "list jobs by status", err)
	}
	return jobs, nil
}

// Retry moves a failed job back to pending with attempts reset to 0. ok is
// false (with a Conflict error) if the job is not currently failed.
func (m *Manager) Retry(ctx context.Context, queue, id string) (bool, error) {
	ok, err := m.backend.Retry(ctx, queue, id)
	if err != nil {
		return false, errs.Wrap(errs.BackendUnavailable, "retry job", err)
	}
	if !ok {
		return false, errs.Newf(errs.Conflict, "job %q is not in a retryable state", id)
	}
	return true, nil
}

// Clean removes up to limit jobs for queue in the given status older than
// olderThan, returning the count removed.
func (m *Manager) Clean(ctx context.Context, queue string, olderThan time.Time, status Status, limit int) (int, error) {
	n, err := m.backend.Clean(ctx, queue, olderThan, status, limit)
	if err != nil {
		return 0, errs.Wrap(errs.BackendUnavailable, "clean jobs", err)
	}
	return n, nil
}

// Stop halts dispatch on every registered queue and waits up to the
// configured shutdown timeout for in-flight jobs to finish, per §4.2.6.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	dispatchers := make([]*dispatcher, 0, len(m.dispatchers))
	for _, d := range m.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range dispatchers {
		wg.Add(1)
		go func(d *dispatcher) {
			defer wg.Done()
			d.stop(ctx, m.shutdownTimeout)
		}(d)
	}
	wg.Wait()
}
