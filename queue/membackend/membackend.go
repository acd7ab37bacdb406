// Package membackend implements an in-process queue.Backend guarded by a
// single mutex shared by all queues, satisfying queue.Backend's atomic claim contract
// without any external storage.
package membackend

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"corekit.dev/queue"
)

func init() {
	queue.RegisterBackend("memory", func(string) (queue.Backend, error) {
		return New(), nil
	})
}

// Backend is an in-memory implementation of queue.Backend. Every queue's
// jobs live in one map; a single mutex protects the ready/delayed/
// processing structures, per §5's shared-resource policy. Job handlers
// run outside the lock.
type Backend struct {
	mu   sync.Mutex
	jobs map[string]map[string]*queue.Job // queue -> id -> job
	seq  uint64
}

// New constructs an empty Backend.
func New() *Backend {
	return &Backend{jobs: make(map[string]map[string]*queue.Job)}
}

func (b *Backend) Connect(context.Context) error    { return nil }
func (b *Backend) Disconnect(context.Context) error { return nil }

func (b *Backend) queueJobs(q string) map[string]*queue.Job {
	m, ok := b.jobs[q]
	if !ok {
		m = make(map[string]*queue.Job)
		b.jobs[q] = m
	}
	return m
}

func (b *Backend) Enqueue(_ context.Context, job *queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	clone := *job
	clone.SetSeq(atomic.AddUint64(&b.seq, 1))
	b.queueJobs(job.Queue)[job.ID] = &clone
	return nil
}

func (b *Backend) Claim(_ context.Context, q string) (*queue.Job, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var ready []*queue.Job
	for _, j := range b.queueJobs(q) {
		if j.Status == queue.StatusPending && !j.EarliestRun.After(now) {
			ready = append(ready, j)
		}
	}
	if len(ready) == 0 {
		return nil, false, nil
	}

	sort.Slice(ready, func(i, k int) bool {
		a, c := ready[i], ready[k]
		if a.Priority != c.Priority {
			return a.Priority > c.Priority
		}
		if !a.EarliestRun.Equal(c.EarliestRun) {
			return a.EarliestRun.Before(c.EarliestRun)
		}
		if !a.CreatedAt.Equal(c.CreatedAt) {
			return a.CreatedAt.Before(c.CreatedAt)
		}
		return a.Seq() < c.Seq()
	})

	claimed := ready[0]
	claimed.Status = queue.StatusProcessing
	claimed.UpdatedAt = now
	t := now
	claimed.ProcessedAt = &t

	out := *claimed
	return &out, true, nil
}

func (b *Backend) Complete(_ context.Context, q, id string, result []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.queueJobs(q)[id]
	if !ok {
		return queue.ErrJobNotFound(q, id)
	}
	now := time.Now()
	j.Status = queue.StatusCompleted
	j.Result = result
	j.UpdatedAt = now
	j.CompletedAt = &now
	return nil
}

func (b *Backend) Reschedule(_ context.Context, q, id, errMsg string, terminal bool, nextRun time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.queueJobs(q)[id]
	if !ok {
		return queue.ErrJobNotFound(q, id)
	}
	now := time.Now()
	j.Attempts++
	j.Error = errMsg
	j.UpdatedAt = now

	if terminal {
		j.Status = queue.StatusFailed
		j.FailedAt = &now
		return nil
	}

	j.EarliestRun = nextRun
	if nextRun.After(now) {
		j.Status = queue.StatusDelayed
	} else {
		j.Status = queue.StatusPending
	}
	return nil
}

func (b *Backend) Get(_ context.Context, q, id string) (*queue.Job, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.queueJobs(q)[id]
	if !ok {
		return nil, false, nil
	}
	out := *j
	return &out, true, nil
}

func (b *Backend) Update(_ context.Context, q, id string, fields queue.UpdateFields) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.queueJobs(q)[id]
	if !ok {
		return false, nil
	}

	if fields.Abandon {
		if j.Status != queue.StatusPending && j.Status != queue.StatusDelayed {
			return false, nil
		}
		now := time.Now()
		j.Status = queue.StatusFailed
		j.FailedAt = &now
		j.Error = "abandoned"
	}
	if fields.Progress != nil {
		j.Progress = *fields.Progress
	}
	if fields.Data != nil {
		j.Payload = fields.Data
	}
	j.UpdatedAt = time.Now()
	return true, nil
}

func (b *Backend) Remove(_ context.Context, q, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	jobs := b.queueJobs(q)
	if _, ok := jobs[id]; !ok {
		return false, nil
	}
	delete(jobs, id)
	return true, nil
}

func (b *Backend) PromoteDelayed(_ context.Context, q string, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, j := range b.queueJobs(q) {
		if j.Status == queue.StatusDelayed && !j.EarliestRun.After(now) {
			j.Status = queue.StatusPending
			j.UpdatedAt = now
		}
	}
	return nil
}

func (b *Backend) QueueInfo(_ context.Context, q string) (queue.QueueCounts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var counts queue.QueueCounts
	for _, j := range b.queueJobs(q) {
		switch j.Status {
		case queue.StatusPending:
			counts.Pending++
		case queue.StatusDelayed:
			counts.Delayed++
		case queue.StatusProcessing:
			counts.Processing++
		case queue.StatusCompleted:
			counts.Completed++
		case queue.StatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func (b *Backend) JobsByStatus(_ context.Context, q string, status queue.Status, limit int) ([]*queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*queue.Job
	for _, j := range b.queueJobs(q) {
		if j.Status == status {
			c := *j
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *Backend) Retry(_ context.Context, q, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.queueJobs(q)[id]
	if !ok || j.Status != queue.StatusFailed {
		return false, nil
	}
	j.Status = queue.StatusPending
	j.Attempts = 0
	j.Error = ""
	j.EarliestRun = time.Now()
	j.UpdatedAt = time.Now()
	return true, nil
}

func (b *Backend) Clean(_ context.Context, q string, olderThan time.Time, status queue.Status, limit int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	jobs := b.queueJobs(q)
	var candidates []*queue.Job
	for _, j := range jobs {
		if j.Status == status && j.UpdatedAt.Before(olderThan) {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].UpdatedAt.Before(candidates[k].UpdatedAt) })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for _, j := range candidates {
		delete(jobs, j.ID)
	}
	return len(candidates), nil
}

func (b *Backend) RevertInFlight(_ context.Context, q string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for _, j := range b.queueJobs(q) {
		if j.Status == queue.StatusProcessing {
			j.Status = queue.StatusPending
			j.UpdatedAt = now
		}
	}
	return nil
}
