// Package redisbackend implements queue.Backend on Redis/Valkey/
// DragonflyDB using hash and sorted-set primitives (HSet/HGetAll, ZAdd/
// ZPopMin/ZRem): a per-queue hash
// holds each job's fields, a "ready" sorted set orders claimable work, a
// "delayed" sorted set holds jobs waiting on their earliestRun, and one
// sorted set per status mirrors job membership for introspection
// (getQueueInfo/getJobsByStatus/clean).
package redisbackend

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"corekit.dev/errs"
	"corekit.dev/queue"
	"github.com/redis/go-redis/v9"
)

func init() {
	queue.RegisterBackend("remote-kv", func(url string) (queue.Backend, error) {
		return New(url)
	})
}

// Backend is a Redis-protocol implementation of queue.Backend.
type Backend struct {
	client *redis.Client
	prefix string
}

// New parses url and returns a Backend using the "queue:" key prefix.
func New(url string) (*Backend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "parse redis url", err)
	}
	return &Backend{client: redis.NewClient(opts), prefix: "queue:"}, nil
}

func (b *Backend) Connect(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return errs.Wrap(errs.BackendUnavailable, "ping redis", err)
	}
	return nil
}

func (b *Backend) Disconnect(context.Context) error { return b.client.Close() }

func (b *Backend) jobKey(q, id string) string    { return fmt.Sprintf("%sjob:%s:%s", b.prefix, q, id) }
func (b *Backend) readyKey(q string) string       { return fmt.Sprintf("%sready:%s", b.prefix, q) }
func (b *Backend) delayedKey(q string) string     { return fmt.Sprintf("%sdelayed:%s", b.prefix, q) }
func (b *Backend) statusKey(q string, s queue.Status) string {
	return fmt.Sprintf("%sstatus:%s:%s", b.prefix, q, s)
}
func (b *Backend) seqKey(q string) string { return fmt.Sprintf("%sseq:%s", b.prefix, q) }

// readyScore orders the ready set so ZPopMin returns the highest-priority,
// earliest-queued job first: higher priority sorts lower (popped first),
// and among equal priorities the monotonically increasing sequence number
// breaks ties in insertion order.
func readyScore(priority int, seq int64) float64 {
	return float64(-priority)*1e12 + float64(seq)
}

func (b *Backend) Enqueue(ctx context.Context, job *queue.Job) error {
	seq, err := b.client.Incr(ctx, b.seqKey(job.Queue)).Result()
	if err != nil {
		return err
	}
	job.SetSeq(uint64(seq))

	if err := b.writeHash(ctx, job); err != nil {
		return err
	}
	if err := b.indexStatus(ctx, job.Queue, job.ID, job.Status, job.UpdatedAt); err != nil {
		return err
	}
	if job.Status == queue.StatusDelayed {
		return b.client.ZAdd(ctx, b.delayedKey(job.Queue), redis.Z{
			Score: float64(job.EarliestRun.Unix()), Member: job.ID,
		}).Err()
	}
	return b.client.ZAdd(ctx, b.readyKey(job.Queue), redis.Z{
		Score: readyScore(job.Priority, seq), Member: job.ID,
	}).Err()
}

func (b *Backend) Claim(ctx context.Context, q string) (*queue.Job, bool, error) {
	popped, err := b.client.ZPopMin(ctx, b.readyKey(q), 1).Result()
	if err != nil {
		return nil, false, err
	}
	if len(popped) == 0 {
		return nil, false, nil
	}
	id := fmt.Sprintf("%v", popped[0].Member)

	job, found, err := b.Get(ctx, q, id)
	if err != nil || !found {
		return nil, false, err
	}

	now := time.Now()
	job.Status = queue.StatusProcessing
	job.ProcessedAt = &now
	job.UpdatedAt = now
	if err := b.writeHash(ctx, job); err != nil {
		return nil, false, err
	}
	if err := b.indexStatus(ctx, q, id, queue.StatusProcessing, now); err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (b *Backend) Complete(ctx context.Context, q, id string, result []byte) error {
	job, found, err := b.Get(ctx, q, id)
	if err != nil {
		return err
	}
	if !found {
		return queue.ErrJobNotFound(q, id)
	}
	now := time.Now()
	job.Status = queue.StatusCompleted
	job.Result = result
	job.UpdatedAt = now
	job.CompletedAt = &now
	if err := b.writeHash(ctx, job); err != nil {
		return err
	}
	return b.indexStatus(ctx, q, id, queue.StatusCompleted, now)
}

func (b *Backend) Reschedule(ctx context.Context, q, id, errMsg string, terminal bool, nextRun time.Time) error {
	job, found, err := b.Get(ctx, q, id)
	if err != nil {
		return err
	}
	if !found {
		return queue.ErrJobNotFound(q, id)
	}

	now := time.Now()
	job.Attempts++
	job.Error = errMsg
	job.UpdatedAt = now

	if terminal {
		job.Status = queue.StatusFailed
		job.FailedAt = &now
		if err := b.writeHash(ctx, job); err != nil {
			return err
		}
		return b.indexStatus(ctx, q, id, queue.StatusFailed, now)
	}

	job.EarliestRun = nextRun
	if nextRun.After(now) {
		job.Status = queue.StatusDelayed
		if err := b.writeHash(ctx, job); err != nil {
			return err
		}
		if err := b.indexStatus(ctx, q, id, queue.StatusDelayed, now); err != nil {
			return err
		}
		return b.client.ZAdd(ctx, b.delayedKey(q), redis.Z{Score: float64(nextRun.Unix()), Member: id}).Err()
	}

	job.Status = queue.StatusPending
	if err := b.writeHash(ctx, job); err != nil {
		return err
	}
	if err := b.indexStatus(ctx, q, id, queue.StatusPending, now); err != nil {
		return err
	}
	return b.client.ZAdd(ctx, b.readyKey(q), redis.Z{Score: readyScore(job.Priority, int64(job.Seq())), Member: id}).Err()
}

func (b *Backend) Get(ctx context.Context, q, id string) (*queue.Job, bool, error) {
	fields, err := b.client.HGetAll(ctx, b.jobKey(q, id)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	return parseJob(q, id, fields), true, nil
}

func (b *Backend) Update(ctx context.Context, q, id string, fields queue.UpdateFields) (bool, error) {
	job, found, err := b.Get(ctx, q, id)
	if err != nil || !found {
		return false, err
	}

	if fields.Abandon {
		if job.Status != queue.StatusPending && job.Status != queue.StatusDelayed {
			return false, nil
		}
		now := time.Now()
		job.Status = queue.StatusFailed
		job.FailedAt = &now
		job.Error = "abandoned"
		if err := b.client.ZRem(ctx, b.readyKey(q), id).Err(); err != nil {
			return false, err
		}
		if err := b.client.ZRem(ctx, b.delayedKey(q), id).Err(); err != nil {
			return false, err
		}
		if err := b.indexStatus(ctx, q, id, queue.StatusFailed, now); err != nil {
			return false, err
		}
	}
	if fields.Progress != nil {
		job.Progress = *fields.Progress
	}
	if fields.Data != nil {
		job.Payload = fields.Data
	}
	job.UpdatedAt = time.Now()
	if err := b.writeHash(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) Remove(ctx context.Context, q, id string) (bool, error) {
	n, err := b.client.Del(ctx, b.jobKey(q, id)).Result()
	if err != nil {
		return false, err
	}
	b.client.ZRem(ctx, b.readyKey(q), id)
	b.client.ZRem(ctx, b.delayedKey(q), id)
	for _, s := range allStatuses {
		b.client.ZRem(ctx, b.statusKey(q, s), id)
	}
	return n > 0, nil
}

func (b *Backend) PromoteDelayed(ctx context.Context, q string, now time.Time) error {
	ids, err := b.client.ZRangeByScore(ctx, b.delayedKey(q), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		job, found, err := b.Get(ctx, q, id)
		if err != nil || !found || job.Status != queue.StatusDelayed {
			continue
		}
		job.Status = queue.StatusPending
		job.UpdatedAt = now
		if err := b.writeHash(ctx, job); err != nil {
			return err
		}
		if err := b.client.ZRem(ctx, b.delayedKey(q), id).Err(); err != nil {
			return err
		}
		if err := b.client.ZAdd(ctx, b.readyKey(q), redis.Z{
			Score: readyScore(job.Priority, int64(job.Seq())), Member: id,
		}).Err(); err != nil {
			return err
		}
		if err := b.indexStatus(ctx, q, id, queue.StatusPending, now); err != nil {
			return err
		}
	}
	return nil
}

var allStatuses = []queue.Status{
	queue.StatusPending, queue.StatusDelayed, queue.StatusProcessing,
	queue.StatusCompleted, queue.StatusFailed,
}

func (b *Backend) QueueInfo(ctx context.Context, q string) (queue.QueueCounts, error) {
	var counts queue.QueueCounts
	for _, s := range allStatuses {
		n, err := b.client.ZCard(ctx, b.statusKey(q, s)).Result()
		if err != nil {
			return counts, err
		}
		switch s {
		case queue.StatusPending:
			counts.Pending = int(n)
		case queue.StatusDelayed:
			counts.Delayed = int(n)
		case queue.StatusProcessing:
			counts.Processing = int(n)
		case queue.StatusCompleted:
			counts.Completed = int(n)
		case queue.StatusFailed:
			counts.Failed = int(n)
		}
	}
	return counts, nil
}

func (b *Backend) JobsByStatus(ctx context.Context, q string, status queue.Status, limit int) ([]*queue.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	ids, err := b.client.ZRevRange(ctx, b.statusKey(q, status), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*queue.Job, 0, len(ids))
	for _, id := range ids {
		job, found, err := b.Get(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, job)
		}
	}
	return out, nil
}

func (b *Backend) Retry(ctx context.Context, q, id string) (bool, error) {
	job, found, err := b.Get(ctx, q, id)
	if err != nil || !found || job.Status != queue.StatusFailed {
		return false, err
	}
	now := time.Now()
	job.Status = queue.StatusPending
	job.Attempts = 0
	job.Error = ""
	job.EarliestRun = now
	job.UpdatedAt = now
	if err := b.writeHash(ctx, job); err != nil {
		return false, err
	}
	if err := b.indexStatus(ctx, q, id, queue.StatusPending, now); err != nil {
		return false, err
	}
	if err := b.client.ZAdd(ctx, b.readyKey(q), redis.Z{
		Score: readyScore(job.Priority, int64(job.Seq())), Member: id,
	}).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) Clean(ctx context.Context, q string, olderThan time.Time, status queue.Status, limit int) (int, error) {
	ids, err := b.client.ZRangeByScore(ctx, b.statusKey(q, status), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(olderThan.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	for _, id := range ids {
		if _, err := b.Remove(ctx, q, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (b *Backend) RevertInFlight(ctx context.Context, q string) error {
	ids, err := b.client.ZRange(ctx, b.statusKey(q, queue.StatusProcessing), 0, -1).Result()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, id := range ids {
		job, found, err := b.Get(ctx, q, id)
		if err != nil || !found {
			continue
		}
		job.Status = queue.StatusPending
		job.UpdatedAt = now
		if err := b.writeHash(ctx, job); err != nil {
			return err
		}
		if err := b.indexStatus(ctx, q, id, queue.StatusPending, now); err != nil {
			return err
		}
		if err := b.client.ZAdd(ctx, b.readyKey(q), redis.Z{
			Score: readyScore(job.Priority, int64(job.Seq())), Member: id,
		}).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) indexStatus(ctx context.Context, q, id string, status queue.Status, at time.Time) error {
	for _, s := range allStatuses {
		if s != status {
			if err := b.client.ZRem(ctx, b.statusKey(q, s), id).Err(); err != nil {
				return err
			}
		}
	}
	return b.client.ZAdd(ctx, b.statusKey(q, status), redis.Z{Score: float64(at.Unix()), Member: id}).Err()
}

func (b *Backend) writeHash(ctx context.Context, job *queue.Job) error {
	fields := map[string]any{
		"queue":       job.Queue,
		"payload":     string(job.Payload),
		"result":      string(job.Result),
		"error":       job.Error,
		"status":      string(job.Status),
		"priority":    job.Priority,
		"attempts":    job.Attempts,
		"maxAttempts": job.MaxAttempts,
		"backoffType": string(job.Backoff.Type),
		"backoffBase": job.Backoff.BaseDelayMs,
		"backoffMax":  job.Backoff.MaxDelayMs,
		"earliestRun": job.EarliestRun.UnixNano(),
		"createdAt":   job.CreatedAt.UnixNano(),
		"updatedAt":   job.UpdatedAt.UnixNano(),
		"progress":    job.Progress,
		"seq":         int64(job.Seq()),
		"missed":      job.Missed,
	}
	if job.CreatedAt.IsZero() {
		fields["createdAt"] = time.Now().UnixNano()
	}
	return b.client.HSet(ctx, b.jobKey(job.Queue, job.ID), fields).Err()
}

func parseJob(q, id string, f map[string]string) *queue.Job {
	job := &queue.Job{
		ID:          id,
		Queue:       q,
		Payload:     []byte(f["payload"]),
		Error:       f["error"],
		Status:      queue.Status(f["status"]),
		Priority:    atoi(f["priority"]),
		Attempts:    atoi(f["attempts"]),
		MaxAttempts: atoi(f["maxAttempts"]),
		Backoff: queue.Backoff{
			Type:        queue.BackoffType(f["backoffType"]),
			BaseDelayMs: atoi64(f["backoffBase"]),
			MaxDelayMs:  atoi64(f["backoffMax"]),
		},
		EarliestRun: timeFromNano(f["earliestRun"]),
		CreatedAt:   timeFromNano(f["createdAt"]),
		UpdatedAt:   timeFromNano(f["updatedAt"]),
		Progress:    atoi(f["progress"]),
		Missed:      f["missed"] == "1" || f["missed"] == "true",
	}
	if r, ok := f["result"]; ok && r != "" {
		job.Result = []byte(r)
	}
	job.SetSeq(uint64(atoi64(f["seq"])))
	return job
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func atoi64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func timeFromNano(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
