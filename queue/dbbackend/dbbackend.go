// Package dbbackend implements queue.Backend on PostgreSQL via GORM,
// using gorm.Open/AutoMigrate to connect and maintain the job table
// layout §6.2 specifies. Claim uses a SELECT ... FOR UPDATE SKIP LOCKED
// transaction, the standard Postgres idiom for exactly-once work
// claiming, fulfilling §4.2.2's "conditional update by status+version"
// requirement for remote backends.
package dbbackend

import (
	"context"
	"errors"
	"time"

	"corekit.dev/errs"
	"corekit.dev/queue"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func init() {
	queue.RegisterBackend("db", func(url string) (queue.Backend, error) {
		return New(url)
	})
}

// jobRow is the persisted shape of a Job, matching §6.2's column list.
// Retention is "retain": completed and failed rows are never pruned
// automatically — callers reclaim space via Clean.
type jobRow struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	Seq         int64  `gorm:"autoIncrement;uniqueIndex"`
	Queue       string `gorm:"index:idx_dispatch,priority:1;type:varchar(128)"`
	Payload     []byte `gorm:"type:bytea"`
	Result      []byte `gorm:"type:bytea"`
	Error       string
	Status      string `gorm:"index:idx_dispatch,priority:2;index:idx_status_run,priority:1;type:varchar(32)"`
	Priority    int    `gorm:"index:idx_dispatch,priority:3"`
	Attempts    int
	MaxAttempts int
	BackoffType string
	BackoffBase int64
	BackoffMax  int64
	Progress    int
	Missed      bool
	EarliestRun time.Time `gorm:"index:idx_dispatch,priority:4;index:idx_status_run,priority:2"`
	ProcessedAt *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (jobRow) TableName() string { return "queue_jobs" }

// Backend is a PostgreSQL implementation of queue.Backend.
type Backend struct {
	db *gorm.DB
}

// New opens a PostgreSQL connection and migrates the queue_jobs table. url
// is a standard libpq/GORM DSN.
func New(url string) (*Backend, error) {
	db, err := gorm.Open(postgres.Open(url), &gorm.Config{})
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "open postgres connection", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "access underlying sql.DB", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&jobRow{}); err != nil {
		return nil, errs.Wrap(errs.Configuration, "migrate queue_jobs table", err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Connect(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (b *Backend) Disconnect(context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *Backend) Enqueue(ctx context.Context, job *queue.Job) error {
	row := toRow(job)
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	job.SetSeq(uint64(row.Seq))
	return nil
}

func (b *Backend) Claim(ctx context.Context, q string) (*queue.Job, bool, error) {
	var row jobRow
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ? AND status = ? AND earliest_run <= ?", q, string(queue.StatusPending), now).
			Order("priority DESC, earliest_run ASC, created_at ASC, seq ASC").
			Limit(1).
			Find(&row).Error
		if err != nil {
			return err
		}
		if row.ID == "" {
			return gorm.ErrRecordNotFound
		}
		row.Status = string(queue.StatusProcessing)
		row.ProcessedAt = &now
		row.UpdatedAt = now
		return tx.Model(&jobRow{}).Where("id = ?", row.ID).Updates(map[string]any{
			"status": row.Status, "processed_at": row.ProcessedAt, "updated_at": row.UpdatedAt,
		}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return fromRow(&row), true, nil
}

func (b *Backend) Complete(ctx context.Context, q, id string, result []byte) error {
	now := time.Now()
	res := b.db.WithContext(ctx).Model(&jobRow{}).Where("queue = ? AND id = ?", q, id).Updates(map[string]any{
		"status": string(queue.StatusCompleted), "result": result, "completed_at": &now, "updated_at": now,
	})
	return checkAffected(res, q, id)
}

func (b *Backend) Reschedule(ctx context.Context, q, id, errMsg string, terminal bool, nextRun time.Time) error {
	var row jobRow
	if err := b.db.WithContext(ctx).Where("queue = ? AND id = ?", q, id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return queue.ErrJobNotFound(q, id)
		}
		return err
	}

	now := time.Now()
	updates := map[string]any{
		"attempts": row.Attempts + 1, "error": errMsg, "updated_at": now,
	}
	if terminal {
		updates["status"] = string(queue.StatusFailed)
		updates["failed_at"] = &now
	} else {
		updates["earliest_run"] = nextRun
		if nextRun.After(now) {
			updates["status"] = string(queue.StatusDelayed)
		} else {
			updates["status"] = string(queue.StatusPending)
		}
	}
	return b.db.WithContext(ctx).Model(&jobRow{}).Where("queue = ? AND id = ?", q, id).Updates(updates).Error
}

func (b *Backend) Get(ctx context.Context, q, id string) (*queue.Job, bool, error) {
	var row jobRow
	err := b.db.WithContext(ctx).Where("queue = ? AND id = ?", q, id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return fromRow(&row), true, nil
}

func (b *Backend) Update(ctx context.Context, q, id string, fields queue.UpdateFields) (bool, error) {
	var row jobRow
	if err := b.db.WithContext(ctx).Where("queue = ? AND id = ?", q, id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	updates := map[string]any{"updated_at": time.Now()}
	if fields.Abandon {
		if row.Status != string(queue.StatusPending) && row.Status != string(queue.StatusDelayed) {
			return false, nil
		}
		now := time.Now()
		updates["status"] = string(queue.StatusFailed)
		updates["failed_at"] = &now
		updates["error"] = "abandoned"
	}
	if fields.Progress != nil {
		updates["progress"] = *fields.Progress
	}
	if fields.Data != nil {
		updates["payload"] = fields.Data
	}
	if err := b.db.WithContext(ctx).Model(&jobRow{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) Remove(ctx context.Context, q, id string) (bool, error) {
	res := b.db.WithContext(ctx).Unscoped().Where("queue = ? AND id = ?", q, id).Delete(&jobRow{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (b *Backend) PromoteDelayed(ctx context.Context, q string, now time.Time) error {
	return b.db.WithContext(ctx).Model(&jobRow{}).
		Where("queue = ? AND status = ? AND earliest_run <= ?", q, string(queue.StatusDelayed), now).
		Updates(map[string]any{"status": string(queue.StatusPending), "updated_at": now}).Error
}

func (b *Backend) QueueInfo(ctx context.Context, q string) (queue.QueueCounts, error) {
	type row struct {
		Status string
		N      int
	}
	var rows []row
	if err := b.db.WithContext(ctx).Model(&jobRow{}).
		Select("status, count(*) as n").Where("queue = ?", q).Group("status").Scan(&rows).Error; err != nil {
		return queue.QueueCounts{}, err
	}
	var counts queue.QueueCounts
	for _, r := range rows {
		switch queue.Status(r.Status) {
		case queue.StatusPending:
			counts.Pending = r.N
		case queue.StatusDelayed:
			counts.Delayed = r.N
		case queue.StatusProcessing:
			counts.Processing = r.N
		case queue.StatusCompleted:
			counts.Completed = r.N
		case queue.StatusFailed:
			counts.Failed = r.N
		}
	}
	return counts, nil
}

func (b *Backend) JobsByStatus(ctx context.Context, q string, status queue.Status, limit int) ([]*queue.Job, error) {
	query := b.db.WithContext(ctx).Where("queue = ? AND status = ?", q, string(status)).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []jobRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*queue.Job, 0, len(rows))
	for i := range rows {
		out = append(out, fromRow(&rows[i]))
	}
	return out, nil
}

func (b *Backend) Retry(ctx context.Context, q, id string) (bool, error) {
	now := time.Now()
	res := b.db.WithContext(ctx).Model(&jobRow{}).
		Where("queue = ? AND id = ? AND status = ?", q, id, string(queue.StatusFailed)).
		Updates(map[string]any{
			"status": string(queue.StatusPending), "attempts": 0, "error": "",
			"earliest_run": now, "updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (b *Backend) Clean(ctx context.Context, q string, olderThan time.Time, status queue.Status, limit int) (int, error) {
	sub := b.db.WithContext(ctx).Model(&jobRow{}).
		Select("id").
		Where("queue = ? AND status = ? AND updated_at < ?", q, string(status), olderThan).
		Order("updated_at ASC")
	if limit > 0 {
		sub = sub.Limit(limit)
	}
	res := b.db.WithContext(ctx).Unscoped().Where("id IN (?)", sub).Delete(&jobRow{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (b *Backend) RevertInFlight(ctx context.Context, q string) error {
	return b.db.WithContext(ctx).Model(&jobRow{}).
		Where("queue = ? AND status = ?", q, string(queue.StatusProcessing)).
		Updates(map[string]any{"status": string(queue.StatusPending), "updated_at": time.Now()}).Error
}

func checkAffected(res *gorm.DB, q, id string) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return queue.ErrJobNotFound(q, id)
	}
	return nil
}

func toRow(job *queue.Job) jobRow {
	return jobRow{
		ID:          job.ID,
		Queue:       job.Queue,
		Payload:     job.Payload,
		Result:      job.Result,
		Error:       job.Error,
		Status:      string(job.Status),
		Priority:    job.Priority,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		BackoffType: string(job.Backoff.Type),
		BackoffBase: job.Backoff.BaseDelayMs,
		BackoffMax:  job.Backoff.MaxDelayMs,
		Progress:    job.Progress,
		Missed:      job.Missed,
		EarliestRun: job.EarliestRun,
		ProcessedAt: job.ProcessedAt,
		CompletedAt: job.CompletedAt,
		FailedAt:    job.FailedAt,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

func fromRow(row *jobRow) *queue.Job {
	job := &queue.Job{
		ID:          row.ID,
		Queue:       row.Queue,
		Payload:     row.Payload,
		Result:      row.Result,
		Error:       row.Error,
		Status:      queue.Status(row.Status),
		Priority:    row.Priority,
		Attempts:    row.Attempts,
		MaxAttempts: row.MaxAttempts,
		Backoff: queue.Backoff{
			Type:        queue.BackoffType(row.BackoffType),
			BaseDelayMs: row.BackoffBase,
			MaxDelayMs:  row.BackoffMax,
		},
		Progress:    row.Progress,
		Missed:      row.Missed,
		EarliestRun: row.EarliestRun,
		ProcessedAt: row.ProcessedAt,
		CompletedAt: row.CompletedAt,
		FailedAt:    row.FailedAt,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	job.SetSeq(uint64(row.Seq))
	return job
}
