// Package coordinator drives batches through their lifecycle: it
// validates submissions, schedules per-document tasks onto the worker
// pool, runs each task inside the error boundary, and resolves the
// batch's final status.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blingtien/rag-system-sub000/internal/batch"
	"github.com/blingtien/rag-system-sub000/internal/faults"
	"github.com/blingtien/rag-system-sub000/internal/locks"
	"github.com/blingtien/rag-system-sub000/internal/metrics"
	"github.com/blingtien/rag-system-sub000/internal/pipeline"
	"github.com/blingtien/rag-system-sub000/internal/pool"
	"github.com/blingtien/rag-system-sub000/internal/progress"
	"github.com/blingtien/rag-system-sub000/internal/store"
	"github.com/blingtien/rag-system-sub000/internal/validate"
)

// ErrNoValidDocuments is returned when validation rejects every submitted
// document. The batch still exists, in StatusFailed, with the rejection
// reasons recorded.
var ErrNoValidDocuments = errors.New("no valid documents in submission")

// Config wires a Coordinator. Machine, Resolver, and Processor are
// required; the rest default to reasonable instances.
type Config struct {
	Machine   *batch.Machine
	Resolver  pipeline.Resolver
	Processor pipeline.Processor
	Validator *validate.Validator
	Pool      *pool.Pool
	Hub       *progress.Hub
	Retrier   *faults.Retrier
	Locks     *locks.Keyed
	Sink      *store.Sink // optional; nil disables persistence
	Logger    *slog.Logger
}

// Coordinator owns batch execution. One Coordinator serves all batches;
// per-batch concurrency happens inside the shared pool.
type Coordinator struct {
	machine   *batch.Machine
	resolver  pipeline.Resolver
	processor pipeline.Processor
	validator *validate.Validator
	pool      *pool.Pool
	hub       *progress.Hub
	retrier   *faults.Retrier
	locks     *locks.Keyed
	sink      *store.Sink
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]*runningBatch
}

type runningBatch struct {
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Machine == nil {
		cfg.Machine = batch.NewMachine(cfg.Logger)
	}
	if cfg.Pool == nil {
		cfg.Pool = pool.New(pool.Config{Logger: cfg.Logger})
	}
	if cfg.Hub == nil {
		cfg.Hub = progress.NewHub(progress.HubConfig{Logger: cfg.Logger})
	}
	if cfg.Retrier == nil {
		cfg.Retrier = faults.NewRetrier(faults.RetrierConfig{Logger: cfg.Logger})
	}
	if cfg.Locks == nil {
		cfg.Locks = locks.New()
	}
	if cfg.Validator == nil {
		cfg.Validator = validate.New(cfg.Resolver, cfg.Locks, cfg.Logger)
	}

	return &Coordinator{
		machine:   cfg.Machine,
		resolver:  cfg.Resolver,
		processor: cfg.Processor,
		validator: cfg.Validator,
		pool:      cfg.Pool,
		hub:       cfg.Hub,
		retrier:   cfg.Retrier,
		locks:     cfg.Locks,
		sink:      cfg.Sink,
		logger:    cfg.Logger,
		running:   make(map[string]*runningBatch),
	}
}

// SubmitBatch validates a submission and, if any document survives
// validation, starts processing it in the background. The returned
// snapshot reflects the batch immediately after submission.
//
// The policy is mandatory. A submission whose documents are all rejected
// leaves a failed batch behind and returns ErrNoValidDocuments alongside
// its snapshot, so the caller can report the rejection reasons.
func (c *Coordinator) SubmitBatch(ctx context.Context, policyStr string, items []validate.Item) (*batch.Snapshot, error) {
	policy, err := batch.ParsePolicy(policyStr)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, faults.Validation(errors.New("submission contains no documents"))
	}

	batchID := c.machine.Create(policy)
	if err := c.machine.Transition(batchID, batch.StatusValidating); err != nil {
		return nil, err
	}

	part, err := c.validator.Partition(ctx, items)
	if err != nil {
		_ = c.machine.Transition(batchID, batch.StatusFailed)
		c.persist(batchID)
		return nil, err
	}
	if err := c.machine.SetRejected(batchID, part.Invalid); err != nil {
		return nil, err
	}

	if len(part.Valid) == 0 {
		if err := c.machine.Transition(batchID, batch.StatusFailed); err != nil {
			return nil, err
		}
		c.finishEvents(batchID, batch.StatusFailed)
		c.persist(batchID)
		snap, serr := c.machine.Snapshot(batchID)
		if serr != nil {
			return nil, serr
		}
		return snap, fmt.Errorf("%w: batch %s", ErrNoValidDocuments, batchID)
	}

	docIDs := make([]string, len(part.Valid))
	for i, item := range part.Valid {
		docIDs[i] = item.DocumentID
	}
	taskIDs, err := c.machine.AddTasks(batchID, docIDs)
	if err != nil {
		return nil, err
	}
	if err := c.machine.Transition(batchID, batch.StatusProcessing); err != nil {
		return nil, err
	}

	// Processing outlives the submission request; the batch context is
	// detached from it and cancelled only via CancelBatch or fail-fast.
	runCtx, cancel := context.WithCancel(context.Background())
	rb := &runningBatch{cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.running[batchID] = rb
	c.mu.Unlock()

	go c.runBatch(runCtx, batchID, part.Valid, taskIDs)

	c.persist(batchID)
	return c.machine.Snapshot(batchID)
}

// runBatch feeds the batch's tasks into the pool. Submission order is
// deterministic; completion order is not. Submit blocks while the pool is
// at capacity, which is the system's backpressure.
func (c *Coordinator) runBatch(ctx context.Context, batchID string, valid []validate.ValidItem, taskIDs []string) {
	for i := range valid {
		item := valid[i]
		taskID := taskIDs[i]

		err := c.pool.Submit(ctx, func(taskCtx context.Context) {
			c.runTask(taskCtx, batchID, taskID, item)
		})
		if err != nil {
			// The batch was cancelled while this task sat in the queue.
			// It never starts.
			rec := faults.NewRecord(taskID, err)
			if ferr := c.machine.FinishTask(batchID, taskID, batch.TaskCancelled, nil, rec, metrics.OutcomeNone); ferr != nil {
				c.logger.Error("cancelling queued task failed",
					"batch_id", batchID, "task_id", taskID, "error", ferr)
				continue
			}
			c.publish(batchID, taskID, progress.KindTaskFailed, rec.Message)
		}
	}

	// Every task is now either admitted or terminal. If cancellation
	// swept the whole queue, no runTask call will resolve the batch.
	c.maybeFinish(batchID)
}

// runTask executes one document's pipeline inside the error boundary and
// records the outcome on the state machine.
func (c *Coordinator) runTask(ctx context.Context, batchID, taskID string, item validate.ValidItem) {
	if err := c.machine.StartTask(batchID, taskID); err != nil {
		c.logger.Error("starting task failed",
			"batch_id", batchID, "task_id", taskID, "error", err)
		return
	}
	c.publish(batchID, taskID, progress.KindTaskStarted, item.DocumentID)

	var res *pipeline.Result
	rec := c.retrier.Do(ctx, taskID, func(ctx context.Context) error {
		if !c.locks.TryAcquire("documents", item.DocumentID) {
			return faults.Exhausted(fmt.Errorf("document %s is locked by another batch", item.DocumentID))
		}
		defer c.locks.Release("documents", item.DocumentID)

		h, err := c.resolver.Resolve(ctx, item.DocumentID)
		if err != nil {
			return err
		}
		r, err := c.processor.Process(ctx, h, item.Options)
		if err != nil {
			return err
		}
		res = r
		return nil
	})

	if rec != nil {
		status := batch.TaskFailed
		if rec.Category == faults.CategoryCancelled {
			status = batch.TaskCancelled
		}
		if err := c.machine.FinishTask(batchID, taskID, status, nil, rec, metrics.OutcomeNone); err != nil {
			c.logger.Error("finishing failed task",
				"batch_id", batchID, "task_id", taskID, "error", err)
		}
		c.publish(batchID, taskID, progress.KindTaskFailed, rec.Message)

		if status == batch.TaskFailed {
			if policy, perr := c.machine.Policy(batchID); perr == nil && policy == batch.PolicyFailFast {
				// Stop scheduling the rest of the batch. The failed task
				// keeps its failed status; everything else cancels.
				c.cancelContext(batchID)
			}
		}
	} else {
		stats, err := c.machine.CacheStats(batchID)
		if err == nil {
			stats.Record(res.Outcome, res.TimeSaved)
		}

		result := &batch.TaskResult{
			Blocks:    res.Blocks,
			Duration:  res.Duration,
			FromCache: res.Outcome == metrics.OutcomeHit,
		}
		if err := c.machine.FinishTask(batchID, taskID, batch.TaskCompleted, result, nil, res.Outcome); err != nil {
			c.logger.Error("finishing completed task",
				"batch_id", batchID, "task_id", taskID, "error", err)
		}
		c.publish(batchID, taskID, progress.KindTaskCompleted, item.DocumentID)
	}

	c.persist(batchID)
	c.maybeFinish(batchID)
}

// maybeFinish resolves the batch if every task is terminal. Safe to call
// from any task goroutine; only the call that flips the batch terminal
// emits the final event.
func (c *Coordinator) maybeFinish(batchID string) {
	final, justFinished, err := c.machine.ResolveIfDone(batchID)
	if err != nil {
		c.logger.Error("resolving batch failed", "batch_id", batchID, "error", err)
		return
	}
	if !justFinished {
		return
	}

	c.persist(batchID)
	c.finishEvents(batchID, final)

	c.mu.Lock()
	rb := c.running[batchID]
	delete(c.running, batchID)
	c.mu.Unlock()

	if rb != nil {
		rb.cancel()
		rb.doneOnce.Do(func() { close(rb.done) })
	}
}

// finishEvents publishes the terminal batch event and closes the batch's
// subscriptions. The terminal event is always published before the close.
func (c *Coordinator) finishEvents(batchID string, final batch.Status) {
	c.publish(batchID, "", progress.KindBatchCompleted, string(final))
	c.hub.CloseBatch(batchID)
}

// CancelBatch requests cooperative cancellation. Queued tasks never
// start; in-flight tasks see their context cancelled. Cancelling a
// terminal batch is a no-op, and repeated cancellation is idempotent.
func (c *Coordinator) CancelBatch(batchID string) error {
	alreadyTerminal, err := c.machine.RequestCancel(batchID)
	if err != nil {
		return err
	}
	if alreadyTerminal {
		return nil
	}

	c.logger.Info("batch cancellation requested", "batch_id", batchID)
	c.cancelContext(batchID)
	return nil
}

func (c *Coordinator) cancelContext(batchID string) {
	c.mu.Lock()
	rb := c.running[batchID]
	c.mu.Unlock()
	if rb != nil {
		rb.cancel()
	}
}

// BatchStatus returns a point-in-time snapshot of one batch.
func (c *Coordinator) BatchStatus(batchID string) (*batch.Snapshot, error) {
	return c.machine.Snapshot(batchID)
}

// ListBatches returns snapshots of every batch this process has seen,
// newest first.
func (c *Coordinator) ListBatches() []*batch.Snapshot {
	return c.machine.List()
}

// SubscribeProgress attaches an observer to a batch's event stream. For a
// batch that is already terminal the subscription comes back closed;
// callers reconcile through BatchStatus.
func (c *Coordinator) SubscribeProgress(batchID string) (*progress.Subscription, error) {
	snap, err := c.machine.Snapshot(batchID)
	if err != nil {
		return nil, err
	}

	sub := c.hub.Subscribe(batchID)
	if snap.Status.Terminal() {
		c.hub.CloseBatch(batchID)
	}
	return sub, nil
}

// Done returns a channel closed when the batch reaches a terminal state.
// For unknown or already-terminal batches the channel is closed
// immediately.
func (c *Coordinator) Done(batchID string) <-chan struct{} {
	c.mu.Lock()
	rb := c.running[batchID]
	c.mu.Unlock()

	if rb == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return rb.done
}

func (c *Coordinator) publish(batchID, taskID string, kind progress.Kind, message string) {
	percent := 0.0
	if snap, err := c.machine.Snapshot(batchID); err == nil {
		percent = snap.Percent
	}
	c.hub.Publish(progress.Event{
		BatchID: batchID,
		TaskID:  taskID,
		Kind:    kind,
		Percent: percent,
		Message: message,
	})
}

func (c *Coordinator) persist(batchID string) {
	if c.sink == nil {
		return
	}
	if snap, err := c.machine.Snapshot(batchID); err == nil {
		c.sink.Send(snap)
	}
}
