// Package queue implements xJet's bounded-concurrency task queue
// (spec §4.D): a FIFO where at most maxConcurrency tasks run at once,
// completions dequeue the next eligible task, and queued (not yet
// running) tasks can be dropped wholesale or by runner on bail. The
// admission control is built on golang.org/x/sync/semaphore, grounded on
// the teacher's own use of golang.org/x/sync (errgroup) for bounding
// concurrent build work in cmd/tast/internal/build.
package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is the unit of work submitted to the queue. It receives the queue's
// context, which Shutdown cancels.
type Task func(ctx context.Context) (interface{}, error)

type entry struct {
	id       uint64
	runnerID string
	task     Task
	resultCh chan result
	canceled bool
}

type result struct {
	val interface{}
	err error
}

// Queue is a bounded-concurrency FIFO scheduler.
type Queue struct {
	mu          sync.Mutex
	sem         *semaphore.Weighted
	max         int64
	ctx         context.Context
	cancel      context.CancelFunc
	paused      bool
	nextID      uint64
	pending     []*entry
	runningN    int
	drainWG     sync.WaitGroup
}

// New constructs a Queue. maxConcurrency is clamped to at least 1.
func New(maxConcurrency int) *Queue {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		sem:    semaphore.NewWeighted(int64(maxConcurrency)),
		max:    int64(maxConcurrency),
		ctx:    ctx,
		cancel: cancel,
		paused: true,
	}
}

// Start allows queued tasks to begin dequeuing.
func (q *Queue) Start() {
	q.mu.Lock()
	q.paused = false
	pending := append([]*entry(nil), q.pending...)
	q.mu.Unlock()
	for _, e := range pending {
		q.dispatch(e)
	}
}

// Stop gates further dequeues; in-flight tasks keep running.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// IsPaused reports whether the queue currently admits no new dequeues.
func (q *Queue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Size returns the number of tasks queued (not yet running).
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Running returns the number of tasks currently executing.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.runningN
}

// Enqueue submits task for execution, optionally tagged with a runnerID
// (used by Clear/RemoveTasksByRunner). It returns a channel that receives
// exactly one result once the task completes — or never, if the task is
// dropped by Clear/RemoveTasksByRunner, matching the spec's "abandoned;
// neither resolve nor reject" behavior.
func (q *Queue) Enqueue(task Task, runnerID string) <-chan struct {
	Val interface{}
	Err error
} {
	outCh := make(chan struct {
		Val interface{}
		Err error
	}, 1)

	e := &entry{
		id:       q.newID(),
		runnerID: runnerID,
		task:     task,
		resultCh: make(chan result, 1),
	}

	go func() {
		r, ok := <-e.resultCh
		if !ok {
			return // abandoned: never send to outCh
		}
		outCh <- struct {
			Val interface{}
			Err error
		}{r.val, r.err}
	}()

	q.mu.Lock()
	paused := q.paused
	q.pending = append(q.pending, e)
	q.mu.Unlock()

	if !paused {
		q.dispatch(e)
	}
	return outCh
}

func (q *Queue) newID() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	return q.nextID
}

// dispatch attempts to acquire a slot and run e; if the queue is paused or
// e was already removed from q.pending, it is a no-op (it will be
// dispatched later by Start, or never if it was dropped).
func (q *Queue) dispatch(e *entry) {
	q.drainWG.Add(1)
	go func() {
		defer q.drainWG.Done()
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			// Queue was torn down before a slot freed up.
			q.removeEntry(e)
			close(e.resultCh)
			return
		}
		defer q.sem.Release(1)

		q.mu.Lock()
		paused := q.paused
		q.mu.Unlock()
		if paused {
			// Left in q.pending for Start to dispatch again.
			return
		}

		if !q.removeEntry(e) {
			// Already removed (Clear/RemoveTasksByRunner raced us); abandon.
			return
		}

		q.mu.Lock()
		q.runningN++
		q.mu.Unlock()

		val, err := e.task(q.ctx)

		q.mu.Lock()
		q.runningN--
		q.mu.Unlock()

		e.resultCh <- result{val: val, err: err}
		close(e.resultCh)
	}()
}

// removeEntry removes e from q.pending if still present, returning whether
// it was found there (i.e. hadn't already been claimed/removed).
func (q *Queue) removeEntry(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p == e {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops all queued (not running) tasks, abandoning their results, and
// returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, e := range dropped {
		close(e.resultCh)
	}
	return len(dropped)
}

// RemoveTasksByRunner drops queued tasks whose runnerID matches, used when
// bail triggers a per-runner cancellation of remaining queued suites.
func (q *Queue) RemoveTasksByRunner(runnerID string) int {
	q.mu.Lock()
	var kept, dropped []*entry
	for _, e := range q.pending {
		if e.runnerID == runnerID {
			dropped = append(dropped, e)
		} else {
			kept = append(kept, e)
		}
	}
	q.pending = kept
	q.mu.Unlock()

	for _, e := range dropped {
		close(e.resultCh)
	}
	return len(dropped)
}

// Wait blocks until every task that was ever dispatched (running or
// in-flight acquire) has completed. It does not wait for tasks still
// sitting in q.pending while the queue is paused.
func (q *Queue) Wait() {
	q.drainWG.Wait()
}

// Shutdown cancels the queue's context, unblocking any dispatch goroutines
// waiting on the semaphore, and waits for outstanding work to settle.
func (q *Queue) Shutdown() {
	q.cancel()
	q.drainWG.Wait()
}
