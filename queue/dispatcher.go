package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"corekit.dev/logging"
	"corekit.dev/serializer"
)

// dispatcher runs one queue's claim/invoke/resolve loop plus its delayed-job
// promoter, per §4.2.2 and §4.2.3.
type dispatcher struct {
	queue   string
	backend Backend
	handler Handler
	hooks   ProcessOptions
	log     *logging.ContextLogger
	ser     serializer.Serializer

	tokens chan struct{} // semaphore of size concurrency
	paused atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup

	runCtx    context.Context
	cancelRun context.CancelFunc

	backendBackoff time.Duration // current backend-unavailable backoff, per §4.2.6
}

func newDispatcher(queue string, backend Backend, handler Handler, opts ProcessOptions, log *logging.ContextLogger, ser serializer.Serializer) *dispatcher {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &dispatcher{
		queue:   queue,
		backend: backend,
		handler: handler,
		hooks:   opts,
		log:     log,
		ser:     ser,
		tokens:  make(chan struct{}, concurrency),
		stopCh:  make(chan struct{}),
	}
}

func (d *dispatcher) start(ctx context.Context) {
	d.runCtx, d.cancelRun = context.WithCancel(ctx)
	go d.promoteLoop(ctx)
	go d.dispatchLoop(ctx)
}

// promoteLoop moves delayed jobs whose earliestRun has passed into
// pending, at an interval no longer than 1s per §4.2.3.
func (d *dispatcher) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if err := d.backend.PromoteDelayed(ctx, d.queue, time.Now()); err != nil {
				d.logError("promote delayed jobs", err)
			}
		}
	}
}

func (d *dispatcher) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		if d.paused.Load() {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		select {
		case <-d.stopCh:
			return
		case d.tokens <- struct{}{}:
		}

		job, found, err := d.backend.Claim(ctx, d.queue)
		if err != nil {
			<-d.tokens
			d.backoffOnBackendFailure(err)
			continue
		}
		d.backendBackoff = 0

		if !found {
			<-d.tokens
			time.Sleep(50 * time.Millisecond)
			continue
		}

		d.wg.Add(1)
		go d.runJob(ctx, job)
	}
}

// backoffOnBackendFailure sleeps with exponential backoff capped at 30s,
// per §4.2.6, without losing anything already claimed (there is nothing
// claimed yet at this point — the failure happened during Claim itself).
func (d *dispatcher) backoffOnBackendFailure(err error) {
	d.logError("claim job", err)
	if d.backendBackoff <= 0 {
		d.backendBackoff = 200 * time.Millisecond
	} else {
		d.backendBackoff *= 2
		if d.backendBackoff > 30*time.Second {
			d.backendBackoff = 30 * time.Second
		}
	}
	time.Sleep(d.backendBackoff)
}

func (d *dispatcher) runJob(ctx context.Context, job *Job) {
	defer d.wg.Done()
	defer func() { <-d.tokens }()

	if d.hooks.OnStart != nil {
		d.hooks.OnStart(job.ID)
	}

	// The handler observes the dispatcher's cancellation signal (closed on
	// stop()), per §5; backend bookkeeping below uses the uncancelled
	// ctx so a completion/reschedule write started just before stop()
	// still lands.
	result, err := d.handler(d.runCtx, job)
	if err == nil {
		if err := d.complete(ctx, job, result); err != nil {
			d.logError("complete job", err)
		}
		return
	}

	d.reschedule(ctx, job, err)
}

func (d *dispatcher) complete(ctx context.Context, job *Job, result any) error {
	var data []byte
	if result != nil {
		encoded, encErr := d.ser.Encode(result)
		if encErr != nil {
			return encErr
		}
		data = encoded
	}
	if err := d.backend.Complete(ctx, d.queue, job.ID, data); err != nil {
		return err
	}
	if d.hooks.OnCompleted != nil {
		d.hooks.OnCompleted(job.ID, result)
	}
	return nil
}

func (d *dispatcher) reschedule(ctx context.Context, job *Job, handlerErr error) {
	attempts := job.Attempts + 1
	terminal := IsNonRetryable(handlerErr) || attempts >= job.MaxAttempts

	nextRun := time.Now()
	if !terminal {
		nextRun = nextRun.Add(job.Backoff.Compute(attempts))
	}

	if err := d.backend.Reschedule(ctx, d.queue, job.ID, handlerErr.Error(), terminal, nextRun); err != nil {
		d.logError("reschedule job", err)
		return
	}
	if terminal && d.hooks.OnFailed != nil {
		d.hooks.OnFailed(job.ID, handlerErr)
	}
}

// stop halts dispatch and waits up to timeout for in-flight jobs, then
// reverts any still running back to pending without touching attempts,
// per §4.2.6.
func (d *dispatcher) stop(ctx context.Context, timeout time.Duration) {
	close(d.stopCh)
	if d.cancelRun != nil {
		d.cancelRun()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		if err := d.backend.RevertInFlight(ctx, d.queue); err != nil {
			d.logError("revert in-flight jobs", err)
		}
	}
}

func (d *dispatcher) logError(msg string, err error) {
	if d.log != nil {
		d.log.WithField("queue", d.queue).WithError(err).Error(msg)
	}
}
