package redisbackend

import (
	"context"
	"testing"
	"time"

	"corekit.dev/queue"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := New("redis://" + mr.Addr())
	require.NoError(t, err)
	require.NoError(t, b.Connect(context.Background()))
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })
	return b
}

func enqueue(t *testing.T, b *Backend, id string, priority int) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, b.Enqueue(ctx, &queue.Job{
		ID: id, Queue: "q", Priority: priority, Status: queue.StatusPending,
		MaxAttempts: 3, EarliestRun: now, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestClaimOrdersByPriority(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	enqueue(t, b, "A", 0)
	enqueue(t, b, "B", 10)
	enqueue(t, b, "C", 5)

	var order []string
	for i := 0; i < 3; i++ {
		job, found, err := b.Claim(ctx, "q")
		require.NoError(t, err)
		require.True(t, found)
		order = append(order, job.ID)
	}
	require.Equal(t, []string{"B", "C", "A"}, order)
}

func TestGetAfterEnqueue(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	enqueue(t, b, "A", 0)

	job, found, err := b.Get(ctx, "q", "A")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, queue.StatusPending, job.Status)
}

func TestCompleteStoresResultAndIndexesStatus(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	enqueue(t, b, "A", 0)

	_, _, err := b.Claim(ctx, "q")
	require.NoError(t, err)
	require.NoError(t, b.Complete(ctx, "q", "A", []byte(`"done"`)))

	job, found, err := b.Get(ctx, "q", "A")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, queue.StatusCompleted, job.Status)
	require.Equal(t, []byte(`"done"`), job.Result)

	counts, err := b.QueueInfo(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, 1, counts.Completed)
}

func TestRescheduleTerminalMarksFailed(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	enqueue(t, b, "A", 0)

	_, _, err := b.Claim(ctx, "q")
	require.NoError(t, err)
	require.NoError(t, b.Reschedule(ctx, "q", "A", "boom", true, time.Now()))

	job, found, err := b.Get(ctx, "q", "A")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, queue.StatusFailed, job.Status)
	require.Equal(t, 1, job.Attempts)
}

func TestPromoteDelayedMovesReadyJobs(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, b.Enqueue(ctx, &queue.Job{
		ID: "A", Queue: "q", Status: queue.StatusDelayed, MaxAttempts: 3,
		EarliestRun: past, CreatedAt: past, UpdatedAt: past,
	}))

	require.NoError(t, b.PromoteDelayed(ctx, "q", time.Now()))

	job, found, err := b.Get(ctx, "q", "A")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, queue.StatusPending, job.Status)

	_, found, err = b.Claim(ctx, "q")
	require.NoError(t, err)
	require.True(t, found)
}
