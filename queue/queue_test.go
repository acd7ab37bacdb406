package queue_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"corekit.dev/queue"
	"corekit.dev/queue/membackend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndGetJobRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := queue.NewManager(membackend.New())

	id, err := m.Add(ctx, "emails", map[string]string{"to": "a@b.com"}, nil)
	require.NoError(t, err)

	job, found, err := m.GetJob(ctx, "emails", id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, queue.StatusPending, job.Status)

	var payload map[string]string
	require.NoError(t, m.DecodePayload(job, &payload))
	assert.Equal(t, "a@b.com", payload["to"])
}

func TestProcessDispatchesInPriorityOrder(t *testing.T) {
	ctx := context.Background()
	m := queue.NewManager(membackend.New())

	_, err := m.Add(ctx, "q", "A", &queue.AddOptions{Priority: 0})
	require.NoError(t, err)
	_, err = m.Add(ctx, "q", "B", &queue.AddOptions{Priority: 10})
	require.NoError(t, err)
	_, err = m.Add(ctx, "q", "C", &queue.AddOptions{Priority: 5})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	err = m.Process(ctx, "q", func(ctx context.Context, job *queue.Job) (any, error) {
		var payload string
		require.NoError(t, m.DecodePayload(job, &payload))

		mu.Lock()
		order = append(order, payload)
		n := len(order)
		mu.Unlock()

		if n == 3 {
			close(done)
		}
		return nil, nil
	}, &queue.ProcessOptions{Concurrency: 1})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all jobs to dispatch")
	}

	m.Stop(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"B", "C", "A"}, order)
}

func TestProcessRetriesWithExponentialBackoffThenSucceeds(t *testing.T) {
	ctx := context.Background()
	m := queue.NewManager(membackend.New())

	_, err := m.Add(ctx, "q", "payload", &queue.AddOptions{
		MaxAttempts: 3,
		Backoff:     queue.Backoff{Type: queue.BackoffExponential, BaseDelayMs: 100, MaxDelayMs: 10000},
	})
	require.NoError(t, err)

	var attempts int32
	completed := make(chan struct{})

	err = m.Process(ctx, "q", func(ctx context.Context, job *queue.Job) (any, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, fmt.Errorf("attempt %d failed", n)
		}
		close(completed)
		return "ok", nil
	}, &queue.ProcessOptions{Concurrency: 1})
	require.NoError(t, err)

	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job to succeed")
	}

	m.Stop(ctx)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestProcessMarksFailedWhenNonRetryable(t *testing.T) {
	ctx := context.Background()
	m := queue.NewManager(membackend.New())

	id, err := m.Add(ctx, "q", "payload", &queue.AddOptions{MaxAttempts: 5})
	require.NoError(t, err)

	failed := make(chan struct{})
	err = m.Process(ctx, "q", func(ctx context.Context, job *queue.Job) (any, error) {
		return nil, queue.NonRetryable(fmt.Errorf("poison"))
	}, &queue.ProcessOptions{
		Concurrency: 1,
		OnFailed:    func(jobID string, err error) { close(failed) },
	})
	require.NoError(t, err)

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job to fail")
	}

	m.Stop(ctx)

	job, found, err := m.GetJob(ctx, "q", id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, queue.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestUpdateJobProgressInvokesOnProgressHook(t *testing.T) {
	ctx := context.Background()
	m := queue.NewManager(membackend.New())

	id, err := m.Add(ctx, "q", "payload", nil)
	require.NoError(t, err)

	type report struct {
		jobID   string
		percent int
	}
	reports := make(chan report, 1)
	err = m.Process(ctx, "q", func(ctx context.Context, job *queue.Job) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, &queue.ProcessOptions{
		Concurrency: 1,
		OnProgress:  func(jobID string, percent int) { reports <- report{jobID, percent} },
	})
	require.NoError(t, err)
	defer m.Stop(ctx)

	progress := 50
	ok, err := m.UpdateJob(ctx, "q", id, queue.UpdateFields{Progress: &progress})
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case r := <-reports:
		assert.Equal(t, id, r.jobID)
		assert.Equal(t, 50, r.percent)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onProgress hook")
	}
}

func TestPauseHaltsDispatch(t *testing.T) {
	ctx := context.Background()
	m := queue.NewManager(membackend.New())

	var calls int32
	err := m.Process(ctx, "q", func(ctx context.Context, job *queue.Job) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}, &queue.ProcessOptions{Concurrency: 1})
	require.NoError(t, err)

	m.Pause("q")
	_, err = m.Add(ctx, "q", "payload", nil)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	m.Resume("q")
	time.Sleep(150 * time.Millisecond)
	m.Stop(ctx)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestProcessFallsBackToManagerDefaultConcurrency(t *testing.T) {
	ctx := context.Background()
	m := queue.NewManager(membackend.New(), queue.WithDefaultConcurrency(3))

	var inFlight, maxInFlight int32
	release := make(chan struct{})
	err := m.Process(ctx, "q", func(ctx context.Context, job *queue.Job) (any, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxInFlight)
			if n <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	}, &queue.ProcessOptions{}) // Concurrency left unset, so the Manager's default applies.
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := m.Add(ctx, "q", i, nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&maxInFlight) == 3
	}, time.Second, 5*time.Millisecond)

	close(release)
	m.Stop(ctx)
}
