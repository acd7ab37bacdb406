// Package cron attaches five-field cron schedule expressions to a queue,
// enqueuing a concrete job at each firing, per §4.2.4. It evaluates
// expressions with robfig/cron/v3's parser rather than hand-rolling one.
package cron

import (
	"context"
	"sync"
	"time"

	"corekit.dev/logging"
	"corekit.dev/queue"
	cronlib "github.com/robfig/cron/v3"
)

// Job describes one recurring schedule.
type Job struct {
	// Expression is a standard five-field cron expression (minute hour
	// day-of-month month day-of-week).
	Expression string
	Queue      string
	// Payload is produced fresh at each firing, so callers can stamp
	// timestamps or sequence numbers into it.
	Payload func() any
	Options *queue.AddOptions
}

// Scheduler evaluates a set of Jobs and enqueues them on their Manager at
// each firing. A missed firing — the schedule's next run found more than a
// minute overdue when checked, e.g. after the host was suspended — fires
// exactly once with Missed set, rather than being replayed for every tick
// that was skipped. Schedules are held in memory only and each entry's
// first run is computed from the time of Add, so firings that fell in a
// period when the process was not running are not detected or enqueued.
type Scheduler struct {
	manager *queue.Manager
	log     *logging.ContextLogger
	parser  cronlib.Parser

	mu      sync.Mutex
	entries []*entry
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type entry struct {
	job     Job
	sched   cronlib.Schedule
	nextRun time.Time
}

// New builds a Scheduler over manager. log may be nil.
func New(manager *queue.Manager, log *logging.ContextLogger) *Scheduler {
	return &Scheduler{
		manager: manager,
		log:     log,
		parser:  cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow),
		stopCh:  make(chan struct{}),
	}
}

// Add attaches job to the scheduler. It returns an error if job's
// expression does not parse.
func (s *Scheduler) Add(job Job) error {
	sched, err := s.parser.Parse(job.Expression)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &entry{
		job:     job,
		sched:   sched,
		nextRun: sched.Next(time.Now()),
	})
	return nil
}

// Start begins evaluating every attached job's schedule once per second,
// enqueuing a job each time an entry's nextRun has passed. A firing more
// than one minute late is enqueued once with Missed set instead of being
// replayed for each tick it was skipped.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case now := <-ticker.C:
				s.tick(ctx, now)
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*entry, 0)
	for _, e := range s.entries {
		if !e.nextRun.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		missed := now.Sub(e.nextRun) > time.Minute
		s.fire(ctx, e, missed)

		s.mu.Lock()
		e.nextRun = e.sched.Next(now)
		s.mu.Unlock()
	}
}

func (s *Scheduler) fire(ctx context.Context, e *entry, missed bool) {
	var payload any
	if e.job.Payload != nil {
		payload = e.job.Payload()
	}
	opts := queue.AddOptions{}
	if e.job.Options != nil {
		opts = *e.job.Options
	}
	opts.Missed = missed
	if _, err := s.manager.Add(ctx, e.job.Queue, payload, &opts); err != nil {
		s.logError(e.job.Queue, err)
	}
}

// Stop halts schedule evaluation and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) logError(q string, err error) {
	if s.log != nil {
		s.log.WithField("queue", q).WithError(err).Error("enqueue scheduled job")
	}
}
