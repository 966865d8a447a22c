// Package pool executes per-document work under a bounded concurrency
// ceiling.
//
// The semaphore is the sole admission-control mechanism: Submit waits for
// a slot instead of queueing unboundedly, so submission beyond capacity
// applies backpressure to the submitter rather than growing memory.
package pool

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// MaxWorkers is the hard ceiling on pool concurrency, bounding resource
// use whatever the configuration says.
const MaxWorkers = 32

// Config configures a Pool.
type Config struct {
	// Workers is the maximum number of concurrently executing work
	// functions. Zero derives a default from GOMAXPROCS, bounded by
	// MaxWorkers.
	Workers int

	// TaskTimeout, when positive, bounds each work function's run.
	// Exceeding it cancels only that task's context.
	TaskTimeout time.Duration

	Logger *slog.Logger
}

// Pool runs work functions with at most Workers executing at once.
// Completions are delivered by the work functions themselves as they
// finish, not in submission order.
type Pool struct {
	sem         *semaphore.Weighted
	workers     int
	taskTimeout time.Duration
	logger      *slog.Logger

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// New creates a Pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		sem:         semaphore.NewWeighted(int64(workers)),
		workers:     workers,
		taskTimeout: cfg.TaskTimeout,
		logger:      logger,
	}
}

// Submit admits fn into the pool, blocking while the pool is at capacity.
// It returns ctx.Err() if ctx is done before a slot frees up - queued
// work is cancelled immediately, without ever starting. Once admitted, fn
// runs on its own goroutine with a context that carries the per-task
// timeout; fn is responsible for observing cancellation cooperatively.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)

		runCtx := ctx
		var cancel context.CancelFunc
		if p.taskTimeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, p.taskTimeout)
			defer cancel()
		}

		p.inFlight.Add(1)
		defer p.inFlight.Add(-1)

		fn(runCtx)
	}()

	return nil
}

// InFlight returns the number of work functions currently executing.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Workers returns the concurrency ceiling.
func (p *Pool) Workers() int {
	return p.workers
}

// Wait blocks until every admitted work function has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
