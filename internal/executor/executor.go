// Package executor implements the Bounded Executor (spec.md §4.6): a
// concurrency limiter that runs at most max_concurrent_containers jobs at
// once, queuing excess submissions in an intake channel buffered to 4096
// jobs. Once that buffer is full, Submit blocks until space frees up.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Job is a unit of work the executor runs on a worker goroutine.
type Job func(ctx context.Context) error

// Future is returned by Submit; callers that need the result call Wait.
type Future struct {
	done chan struct{}
	err  error
}

// Wait blocks until the job completes and returns its error.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// Totals is a snapshot of the executor's lifetime counters.
type Totals struct {
	Submitted int64
	Running   int64
	Completed int64
	Failed    int64
}

// Executor runs Jobs with bounded concurrency.
type Executor struct {
	ctx    context.Context
	cancel context.CancelFunc

	sem   chan struct{}
	intake chan queuedJob

	submitted int64
	running   int64
	completed int64
	failed    int64

	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type queuedJob struct {
	job   Job
	future *Future
}

// New returns an Executor allowing at most maxConcurrent jobs to run at
// once. The background dispatch loop is started immediately and stops
// when Shutdown is called.
func New(maxConcurrent int) *Executor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		ctx:    ctx,
		cancel: cancel,
		sem:    make(chan struct{}, maxConcurrent),
		intake: make(chan queuedJob, 4096),
	}
	e.wg.Add(1)
	go e.dispatch()
	return e
}

func (e *Executor) dispatch() {
	defer e.wg.Done()
	for {
		select {
		case qj, ok := <-e.intake:
			if !ok {
				return
			}
			e.runOne(qj)
		case <-e.ctx.Done():
			// Drain whatever remains in the intake buffer before exiting,
			// so jobs already accepted by Submit still get a result.
			for {
				select {
				case qj, ok := <-e.intake:
					if !ok {
						return
					}
					e.runOne(qj)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) runOne(qj queuedJob) {
	select {
	case e.sem <- struct{}{}:
	case <-e.ctx.Done():
		// Shutdown already in progress and this job never started —
		// report it as failed rather than hang the caller forever.
		qj.future.err = e.ctx.Err()
		close(qj.future.done)
		atomic.AddInt64(&e.failed, 1)
		return
	}
	atomic.AddInt64(&e.running, 1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() { <-e.sem }()
		defer atomic.AddInt64(&e.running, -1)

		err := qj.job(e.ctx)
		if err != nil {
			atomic.AddInt64(&e.failed, 1)
		} else {
			atomic.AddInt64(&e.completed, 1)
		}
		qj.future.err = err
		close(qj.future.done)
	}()
}

// Submit enqueues job and returns a Future. It returns immediately while
// the 4096-job intake buffer has room and blocks while that buffer is full.
func (e *Executor) Submit(job Job) *Future {
	f := &Future{done: make(chan struct{})}
	atomic.AddInt64(&e.submitted, 1)

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		f.err = context.Canceled
		close(f.done)
		atomic.AddInt64(&e.failed, 1)
		return f
	}

	e.intake <- queuedJob{job: job, future: f}
	return f
}

// Totals returns a snapshot of the executor's lifetime counters.
func (e *Executor) Totals() Totals {
	return Totals{
		Submitted: atomic.LoadInt64(&e.submitted),
		Running:   atomic.LoadInt64(&e.running),
		Completed: atomic.LoadInt64(&e.completed),
		Failed:    atomic.LoadInt64(&e.failed),
	}
}

// Shutdown stops accepting new jobs, cancels the executor's context, and
// waits up to grace for in-flight and queued jobs to finish. Jobs still
// running when grace elapses are abandoned — the context cancellation
// they observe is their only cooperative signal.
func (e *Executor) Shutdown(grace time.Duration) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.intake)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		e.cancel()
	}
	e.cancel()
}
