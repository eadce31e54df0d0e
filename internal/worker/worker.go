// Package worker provides the two executors of the daemon: a single
// serial queue for every blocking, accessibility-touching operation, and
// a utility executor for fire-and-forget persistence work. The serial
// queue is the only path allowed to touch the accessibility layer, the
// screen, or child processes.
package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when work is submitted after shutdown.
var ErrStopped = errors.New("worker queue stopped")

// Queue runs submitted jobs one at a time in submission order.
type Queue struct {
	mu      sync.Mutex
	jobs    chan func()
	stopped bool
	done    chan struct{}
}

func NewQueue(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &Queue{
		jobs: make(chan func(), buffer),
		done: make(chan struct{}),
	}
}

// Run drains the queue until ctx is done. Jobs already dequeued run to
// completion; callers blocked in Do are released with ErrStopped only
// if their job never started.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.stopped = true
			q.mu.Unlock()
			close(q.done)
			return
		case job := <-q.jobs:
			job()
		}
	}
}

// Submit enqueues fn without waiting. Returns false after shutdown or
// when the queue is full.
func (q *Queue) Submit(fn func()) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	q.mu.Unlock()
	select {
	case q.jobs <- fn:
		return true
	default:
		return false
	}
}

// Do runs fn on the queue and waits for it to finish. Cancellation of
// the caller is deliberately not propagated: once scheduled, the job
// runs to completion (the accessibility layer is not interrupt-safe).
func (q *Queue) Do(fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	q.mu.Unlock()

	select {
	case q.jobs <- wrapped:
	case <-q.done:
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-q.done:
		// The queue may stop between dequeue and completion; give the
		// running job its chance to finish.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Utility is the fire-and-forget executor for durable writes. Each task
// runs on its own goroutine; a WaitGroup lets shutdown drain them.
type Utility struct {
	wg sync.WaitGroup
}

func NewUtility() *Utility {
	return &Utility{}
}

// Go schedules fn without blocking the caller.
func (u *Utility) Go(fn func()) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		fn()
	}()
}

// Wait blocks until all scheduled tasks finish.
func (u *Utility) Wait() {
	u.wg.Wait()
}
