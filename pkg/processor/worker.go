package processor

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/orneryd/fraudgraph/pkg/store"
)

// maxBackoffMultiple caps how far an empty/failed queue poll backs off from
// the worker's base pollInterval before it stops growing.
const maxBackoffMultiple = 8

// jobFunc processes one claimed transaction id.
type jobFunc func(ctx context.Context, txnID store.TransactionID) error

// Worker polls a single queue and drives claimed rows through run. Grounded
// on pkg/storage/async_engine.go's flushLoop (ticker + stopChan +
// sync.WaitGroup shutdown) and apoc/periodic.Repeat's
// context.WithCancel-driven ticker loop; generalized from "flush on a
// timer" to "claim-or-sleep, then process" (spec.md §4.5).
type Worker struct {
	Queue store.QueueName
	Store store.Engine
	run   jobFunc

	pollInterval time.Duration
	jobDeadline  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newWorker(queue store.QueueName, st store.Engine, run jobFunc, pollInterval, jobDeadline time.Duration) *Worker {
	return &Worker{Queue: queue, Store: st, run: run, pollInterval: pollInterval, jobDeadline: jobDeadline}
}

// Start launches the worker's poll loop in the background.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop requests cooperative shutdown: no new claims are issued, and Stop
// blocks until any in-flight job commits or aborts (spec.md §6 "Shutdown
// is cooperative").
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// loop polls at w.pollInterval while rows are available, and backs off
// exponentially (capped at maxBackoffMultiple*pollInterval, with jitter)
// once the queue runs dry or a claim errors, so idle queues on an
// otherwise-busy store don't have every worker hammering Claim in lockstep
// (spec.md §9 "Queue backoff with jitter").
func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	delay := w.pollInterval
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if w.claimAndProcessOne(ctx) {
				delay = w.pollInterval
			} else {
				delay = nextBackoff(delay, w.pollInterval)
			}
			timer.Reset(jitter(delay))
		}
	}
}

// nextBackoff doubles delay, capped at maxBackoffMultiple*base.
func nextBackoff(delay, base time.Duration) time.Duration {
	capped := base * maxBackoffMultiple
	delay *= 2
	if delay > capped {
		delay = capped
	}
	return delay
}

// jitter returns a random duration in [d/2, d], so workers sharing a poll
// interval don't all wake up and re-claim on the same tick.
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// claimAndProcessOne claims at most one row and drives it through run
// within a bounded job deadline. A deadline overrun aborts without
// finishing the row, leaving it unclaimed for another worker to pick up
// (spec.md §5 "Cancellation & timeouts"). It reports whether a row was
// claimed, so loop knows whether to reset or back off its poll delay.
func (w *Worker) claimAndProcessOne(ctx context.Context) bool {
	row, err := w.Store.Claim(ctx, w.Queue)
	if store.IsQueueEmpty(err) {
		return false
	}
	if err != nil {
		log.Printf("[processor] claim(%s): %v", w.Queue, err)
		return false
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobDeadline)
	defer cancel()

	if err := w.run(jobCtx, row.ProcessableID); err != nil {
		log.Printf("[processor] job %d on %s failed: %v", row.ID, w.Queue, err)
		if releaseErr := w.Store.Release(ctx, w.Queue, row.ID); releaseErr != nil {
			log.Printf("[processor] release job %d on %s: %v", row.ID, w.Queue, releaseErr)
		}
		return true
	}

	if err := w.Store.Finish(ctx, w.Queue, row.ID); err != nil {
		log.Printf("[processor] finish job %d on %s: %v", row.ID, w.Queue, err)
	}
	return true
}

// WorkerPool is every worker started by Processor.Start: Config.MaxWorkers
// pollers on the processing queue plus Config.MaxWorkers on the
// recalculation queue (spec.md §5 "multiple parallel worker
// threads/tasks per queue"). Claim's per-row exclusivity (store.Engine's
// claim/finish/release lifecycle) is what makes concurrent pollers on the
// same queue safe.
type WorkerPool struct {
	workers []*Worker
}

// Start launches every worker in the pool.
func (wp *WorkerPool) Start(ctx context.Context) {
	for _, w := range wp.workers {
		w.Start(ctx)
	}
}

// Stop cooperatively stops every worker, waiting for in-flight jobs.
func (wp *WorkerPool) Stop() {
	for _, w := range wp.workers {
		w.Stop()
	}
}
