package dbbackend

import (
	"testing"
	"time"

	"corekit.dev/queue"
	"github.com/stretchr/testify/assert"
)

// These exercise the row/Job conversion and table name only; standing up a
// live PostgreSQL server is outside this package's test scope.

func TestJobRowTableName(t *testing.T) {
	assert.Equal(t, "queue_jobs", jobRow{}.TableName())
}

func TestToRowFromRowRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	job := &queue.Job{
		ID: "j1", Queue: "emails", Payload: []byte(`"hi"`), Status: queue.StatusPending,
		Priority: 5, Attempts: 1, MaxAttempts: 3,
		Backoff:     queue.Backoff{Type: queue.BackoffExponential, BaseDelayMs: 100, MaxDelayMs: 5000},
		Progress:    42,
		EarliestRun: now, CreatedAt: now, UpdatedAt: now,
	}

	row := toRow(job)
	row.Seq = 7
	back := fromRow(&row)

	assert.Equal(t, job.ID, back.ID)
	assert.Equal(t, job.Queue, back.Queue)
	assert.Equal(t, job.Payload, back.Payload)
	assert.Equal(t, job.Status, back.Status)
	assert.Equal(t, job.Priority, back.Priority)
	assert.Equal(t, job.Attempts, back.Attempts)
	assert.Equal(t, job.MaxAttempts, back.MaxAttempts)
	assert.Equal(t, job.Backoff, back.Backoff)
	assert.Equal(t, job.Progress, back.Progress)
	assert.Equal(t, uint64(7), back.Seq())
}

func TestToRowFromRowPreservesTimestamps(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	processed := now.Add(time.Second)
	job := &queue.Job{
		ID: "j2", Queue: "q", Status: queue.StatusCompleted,
		ProcessedAt: &processed, CompletedAt: &processed,
		CreatedAt: now, UpdatedAt: now,
	}

	row := toRow(job)
	back := fromRow(&row)

	assert.Equal(t, job.ProcessedAt, back.ProcessedAt)
	assert.Equal(t, job.CompletedAt, back.CompletedAt)
	assert.Nil(t, back.FailedAt)
}
