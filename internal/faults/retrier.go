package faults

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

// Retrier runs collaborator calls inside the error boundary: panics are
// recovered, retryable categories are retried with backoff, and the final
// failure (if any) comes back as a Record rather than a raw error.
type Retrier struct {
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
	logger   *slog.Logger
}

// RetrierConfig configures the boundary's retry policy.
type RetrierConfig struct {
	// Attempts is the total number of tries, including the first
	// (default 3).
	Attempts uint
	// Delay is the initial backoff delay (default 200ms).
	Delay time.Duration
	// MaxDelay caps the backoff (default 5s).
	MaxDelay time.Duration
	Logger   *slog.Logger
}

// NewRetrier creates a Retrier with the given policy.
func NewRetrier(cfg RetrierConfig) *Retrier {
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 200 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retrier{
		attempts: cfg.Attempts,
		delay:    cfg.Delay,
		maxDelay: cfg.MaxDelay,
		logger:   cfg.Logger,
	}
}

// Do executes fn under the boundary. Returns nil on success, or the Record
// for the final classified failure. Do never panics and never returns a
// raw error: callers above it (the worker pool, the coordinator) only ever
// see Records.
func (r *Retrier) Do(ctx context.Context, taskID string, fn func(ctx context.Context) error) *Record {
	err := retry.Do(
		func() error {
			return runProtected(ctx, fn)
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.MaxDelay(r.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return Classify(err).Retryable()
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("retrying task",
				"task_id", taskID,
				"attempt", n+1,
				"category", Classify(err),
				"error", err,
			)
		}),
	)
	if err == nil {
		return nil
	}
	return NewRecord(taskID, err)
}

// runProtected invokes fn with panic recovery. A panic inside a
// collaborator must not tear down unrelated concurrent tasks.
func runProtected(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = Internal(fmt.Errorf("panic: %v", rec))
		}
	}()
	return fn(ctx)
}
