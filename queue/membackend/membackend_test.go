package membackend

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"corekit.dev/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimOrdersByPriorityThenCreation(t *testing.T) {
	ctx := context.Background()
	b := New()

	now := time.Now()
	a := &queue.Job{ID: "A", Queue: "q", Priority: 0, Status: queue.StatusPending, EarliestRun: now, CreatedAt: now}
	bb := &queue.Job{ID: "B", Queue: "q", Priority: 10, Status: queue.StatusPending, EarliestRun: now, CreatedAt: now}
	c := &queue.Job{ID: "C", Queue: "q", Priority: 5, Status: queue.StatusPending, EarliestRun: now, CreatedAt: now}

	require.NoError(t, b.Enqueue(ctx, a))
	require.NoError(t, b.Enqueue(ctx, bb))
	require.NoError(t, b.Enqueue(ctx, c))

	var order []string
	for i := 0; i < 3; i++ {
		job, found, err := b.Claim(ctx, "q")
		require.NoError(t, err)
		require.True(t, found)
		order = append(order, job.ID)
	}
	assert.Equal(t, []string{"B", "C", "A"}, order)
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	b := New()

	now := time.Now()
	require.NoError(t, b.Enqueue(ctx, &queue.Job{ID: "only", Queue: "q", Status: queue.StatusPending, EarliestRun: now, CreatedAt: now}))

	var claims int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, found, err := b.Claim(ctx, "q")
			if err == nil && found {
				atomic.AddInt32(&claims, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), claims)
}

func TestRescheduleNonTerminalMovesToDelayed(t *testing.T) {
	ctx := context.Background()
	b := New()

	now := time.Now()
	job := &queue.Job{ID: "j1", Queue: "q", Status: queue.StatusPending, MaxAttempts: 3, EarliestRun: now, CreatedAt: now}
	require.NoError(t, b.Enqueue(ctx, job))

	claimed, _, err := b.Claim(ctx, "q")
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, b.Reschedule(ctx, "q", claimed.ID, "boom", false, future))

	got, found, err := b.Get(ctx, "q", "j1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, queue.StatusDelayed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestRescheduleTerminalMarksFailed(t *testing.T) {
	ctx := context.Background()
	b := New()

	now := time.Now()
	job := &queue.Job{ID: "j1", Queue: "q", Status: queue.StatusPending, MaxAttempts: 1, EarliestRun: now, CreatedAt: now}
	require.NoError(t, b.Enqueue(ctx, job))

	claimed, _, err := b.Claim(ctx, "q")
	require.NoError(t, err)
	require.NoError(t, b.Reschedule(ctx, "q", claimed.ID, "boom", true, time.Now()))

	got, found, err := b.Get(ctx, "q", "j1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, queue.StatusFailed, got.Status)
}

func TestRetryResetsAttempts(t *testing.T) {
	ctx := context.Background()
	b := New()

	now := time.Now()
	require.NoError(t, b.Enqueue(ctx, &queue.Job{ID: "j1", Queue: "q", Status: queue.StatusPending, MaxAttempts: 1, EarliestRun: now, CreatedAt: now}))
	claimed, _, _ := b.Claim(ctx, "q")
	require.NoError(t, b.Reschedule(ctx, "q", claimed.ID, "boom", true, time.Now()))

	ok, err := b.Retry(ctx, "q", "j1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _, _ := b.Get(ctx, "q", "j1")
	assert.Equal(t, queue.StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
}

func TestPromoteDelayedMovesReadyJobs(t *testing.T) {
	ctx := context.Background()
	b := New()

	past := time.Now().Add(-time.Second)
	require.NoError(t, b.Enqueue(ctx, &queue.Job{ID: "j1", Queue: "q", Status: queue.StatusDelayed, EarliestRun: past, CreatedAt: past}))

	require.NoError(t, b.PromoteDelayed(ctx, "q", time.Now()))

	got, _, _ := b.Get(ctx, "q", "j1")
	assert.Equal(t, queue.StatusPending, got.Status)
}

func TestUpdateRejectsAbandonFromNonPendingStatus(t *testing.T) {
	ctx := context.Background()
	b := New()

	now := time.Now()
	require.NoError(t, b.Enqueue(ctx, &queue.Job{ID: "j1", Queue: "q", Status: queue.StatusCompleted, EarliestRun: now, CreatedAt: now}))

	ok, err := b.Update(ctx, "q", "j1", queue.UpdateFields{Abandon: true})
	require.NoError(t, err)
	assert.False(t, ok)
}
