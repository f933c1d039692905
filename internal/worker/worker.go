package worker

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var (
	ErrQueueFull  = errors.New("worker: queue full and all workers busy")
	ErrPoolClosed = errors.New("worker: pool is not accepting jobs")
)

type Job interface{}

type ProcessFunc func(ctx context.Context, job Job) error

type Config struct {
	CoreWorkers int
	MaxWorkers  int
	QueueSize   int
	// KeepAlive is how long a worker above the core count waits idle before exiting.
	KeepAlive time.Duration
}

// WorkerPool runs jobs on a bounded set of goroutines. CoreWorkers goroutines
// start with the pool; when the queue is full, extra workers up to MaxWorkers
// are started and retire after KeepAlive of idleness. Submissions beyond that
// are rejected instead of blocking the caller.
type WorkerPool struct {
	cfg       Config
	jobs      chan Job
	processor ProcessFunc

	mu      sync.Mutex
	workers int
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(cfg Config, processor ProcessFunc) *WorkerPool {
	if cfg.CoreWorkers < 1 {
		cfg.CoreWorkers = 1
	}
	if cfg.MaxWorkers < cfg.CoreWorkers {
		cfg.MaxWorkers = cfg.CoreWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = time.Minute
	}

	return &WorkerPool{
		cfg:       cfg,
		jobs:      make(chan Job, cfg.QueueSize),
		processor: processor,
	}
}

// Start launches the core workers. Jobs run with a context derived from ctx
// that is cancelled when ctx ends or when Shutdown gives up waiting.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return
	}
	wp.started = true
	wp.ctx, wp.cancel = context.WithCancel(ctx)

	for i := 0; i < wp.cfg.CoreWorkers; i++ {
		wp.spawn(nil, false)
	}
}

// Submit enqueues job without blocking. It returns ErrQueueFull when the
// queue is full and MaxWorkers are busy, and ErrPoolClosed before Start or
// after Shutdown.
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.started || wp.closed {
		return ErrPoolClosed
	}

	select {
	case wp.jobs <- job:
		return nil
	default:
	}

	if wp.workers < wp.cfg.MaxWorkers {
		wp.spawn(job, true)
		return nil
	}
	return ErrQueueFull
}

// spawn must be called with wp.mu held. Transient workers start with first.
func (wp *WorkerPool) spawn(first Job, transient bool) {
	wp.workers++
	wp.wg.Add(1)
	go wp.worker(first, transient)
}

func (wp *WorkerPool) worker(first Job, transient bool) {
	defer wp.wg.Done()

	var idle *time.Timer
	if transient {
		wp.run(first)
		idle = time.NewTimer(wp.cfg.KeepAlive)
		defer idle.Stop()
	}

	for {
		var idleC <-chan time.Time
		if idle != nil {
			idleC = idle.C
		}

		select {
		case <-wp.ctx.Done():
			wp.retire()
			return
		case <-idleC:
			wp.retire()
			return
		case job, ok := <-wp.jobs:
			if !ok {
				wp.retire()
				return
			}
			wp.run(job)
			if idle != nil {
				idle.Reset(wp.cfg.KeepAlive)
			}
		}
	}
}

func (wp *WorkerPool) retire() {
	wp.mu.Lock()
	wp.workers--
	wp.mu.Unlock()
}

// run isolates a single job: a panic is logged and the worker keeps serving.
func (wp *WorkerPool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker recovered from panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := wp.processor(wp.ctx, job); err != nil {
		slog.Debug("job returned error", "error", err)
	}
}

// Workers returns the number of live worker goroutines.
func (wp *WorkerPool) Workers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.workers
}

// Pending returns the number of queued jobs not yet picked up.
func (wp *WorkerPool) Pending() int {
	return len(wp.jobs)
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. If ctx ends first, the job context is cancelled and ctx.Err() is
// returned without waiting for jobs that are still running.
func (wp *WorkerPool) Shutdown(ctx context.Context) error {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return nil
	}
	wp.closed = true
	close(wp.jobs)
	started := wp.started
	wp.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.cancel()
		return nil
	case <-ctx.Done():
		wp.cancel()
		return ctx.Err()
	}
}

// Stop drains the pool without a deadline.
func (wp *WorkerPool) Stop() error {
	return wp.Shutdown(context.Background())
}
