package batch

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blingtien/rag-system-sub000/internal/faults"
	"github.com/blingtien/rag-system-sub000/internal/metrics"
)

var (
	// ErrInvalidTransition is returned for any transition not in the
	// legal-transition table. Illegal transitions are never silently
	// ignored.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrBatchNotFound is returned for unknown batch identifiers.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrTaskNotFound is returned for unknown task identifiers.
	ErrTaskNotFound = errors.New("task not found")
)

// transitions is the legal-transition table for batch statuses.
var transitions = map[Status][]Status{
	StatusCreated:    {StatusValidating},
	StatusValidating: {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// taskTransitions is the legal-transition table for task statuses. A task
// never re-enters pending.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending: {TaskRunning, TaskCancelled},
	TaskRunning: {TaskCompleted, TaskFailed, TaskCancelled},
}

func legal(table map[Status][]Status, from, to Status) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

func legalTask(from, to TaskStatus) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine tracks all live batches and guards every status mutation.
//
// Mutations to a given batch are serialized through that batch's own lock,
// so unrelated batches make progress independently. Transition logic never
// blocks on I/O; persistence and event fanout happen outside, driven by
// the coordinator.
type Machine struct {
	mu      sync.RWMutex
	batches map[string]*entry
	logger  *slog.Logger
}

type entry struct {
	mu sync.Mutex
	b  *Batch
}

// NewMachine creates an empty state machine.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		batches: make(map[string]*entry),
		logger:  logger,
	}
}

// Create registers a new batch in StatusCreated and returns its ID. The
// cache accounting is allocated here, before any other code path runs.
func (m *Machine) Create(policy Policy) string {
	b := &Batch{
		ID:        uuid.NewString(),
		Policy:    policy,
		Status:    StatusCreated,
		CreatedAt: time.Now().UTC(),
		Cache:     metrics.NewCacheStats(),
	}

	m.mu.Lock()
	m.batches[b.ID] = &entry{b: b}
	m.mu.Unlock()

	m.logger.Info("batch created", "batch_id", b.ID, "policy", policy)
	return b.ID
}

func (m *Machine) lookup(batchID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.batches[batchID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	return e, nil
}

// Transition moves a batch to a new status, enforcing the transition
// table. Terminal targets set CompletedAt.
func (m *Machine) Transition(batchID string, to Status) error {
	e, err := m.lookup(batchID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.b.Status
	if !legal(transitions, from, to) {
		return fmt.Errorf("%w: batch %s: %s -> %s", ErrInvalidTransition, batchID, from, to)
	}

	e.b.Status = to
	if to.Terminal() {
		now := time.Now().UTC()
		e.b.CompletedAt = &now
	}

	m.logger.Info("batch transition", "batch_id", batchID, "from", from, "to", to)
	return nil
}

// AddTasks creates pending task records for the given documents. Tasks
// may only be added while the batch is validating, before processing
// begins.
func (m *Machine) AddTasks(batchID string, documentIDs []string) ([]string, error) {
	e, err := m.lookup(batchID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.b.Status != StatusValidating {
		return nil, fmt.Errorf("%w: cannot add tasks in status %s", ErrInvalidTransition, e.b.Status)
	}

	ids := make([]string, 0, len(documentIDs))
	for _, docID := range documentIDs {
		t := &Task{
			ID:         uuid.NewString(),
			BatchID:    batchID,
			DocumentID: docID,
			Status:     TaskPending,
			Cache:      metrics.OutcomeNone,
		}
		e.b.Tasks = append(e.b.Tasks, t)
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// SetRejected records the validation rejects for the batch.
func (m *Machine) SetRejected(batchID string, rejected []RejectedItem) error {
	e, err := m.lookup(batchID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.b.Rejected = rejected
	return nil
}

// RequestCancel marks the batch for cancellation. Returns true if the
// batch was already terminal (the request is a no-op).
func (m *Machine) RequestCancel(batchID string) (alreadyTerminal bool, err error) {
	e, err := m.lookup(batchID)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.b.Status.Terminal() {
		return true, nil
	}
	e.b.cancelRequested = true
	return false, nil
}

// CancelRequested reports whether cancellation has been requested.
func (m *Machine) CancelRequested(batchID string) (bool, error) {
	e, err := m.lookup(batchID)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.b.cancelRequested, nil
}

func (e *entry) task(taskID string) (*Task, error) {
	for _, t := range e.b.Tasks {
		if t.ID == taskID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

// StartTask moves a task from pending to running.
func (m *Machine) StartTask(batchID, taskID string) error {
	e, err := m.lookup(batchID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.task(taskID)
	if err != nil {
		return err
	}
	if !legalTask(t.Status, TaskRunning) {
		return fmt.Errorf("%w: task %s: %s -> %s", ErrInvalidTransition, taskID, t.Status, TaskRunning)
	}

	now := time.Now().UTC()
	t.Status = TaskRunning
	t.StartedAt = &now
	return nil
}

// FinishTask moves a task to a terminal status with its outcome. Exactly
// one of result/errRec is expected to be set, matching the status.
func (m *Machine) FinishTask(batchID, taskID string, status TaskStatus, result *TaskResult, errRec *faults.Record, cache metrics.Outcome) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: FinishTask target %s is not terminal", ErrInvalidTransition, status)
	}

	e, err := m.lookup(batchID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.task(taskID)
	if err != nil {
		return err
	}
	if !legalTask(t.Status, status) {
		return fmt.Errorf("%w: task %s: %s -> %s", ErrInvalidTransition, taskID, t.Status, status)
	}

	now := time.Now().UTC()
	t.Status = status
	t.CompletedAt = &now
	t.Result = result
	t.Error = errRec
	if cache != "" {
		t.Cache = cache
	}
	return nil
}

// CacheStats returns the batch's shared cache accounting. The returned
// value has its own internal locking; callers mutate it directly.
func (m *Machine) CacheStats(batchID string) (*metrics.CacheStats, error) {
	e, err := m.lookup(batchID)
	if err != nil {
		return nil, err
	}
	return e.b.Cache, nil
}

// Policy returns the batch's failure policy.
func (m *Machine) Policy(batchID string) (Policy, error) {
	e, err := m.lookup(batchID)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.b.Policy, nil
}

// ResolveIfDone checks whether every task is terminal and, if so, moves
// the batch to its final status:
//
//   - any failed task under fail-fast -> failed
//   - cancellation requested         -> cancelled
//   - otherwise                      -> completed (best-effort surfaces
//     per-task failures without failing the batch)
//
// Returns the final status and true when the batch just became terminal.
func (m *Machine) ResolveIfDone(batchID string) (Status, bool, error) {
	e, err := m.lookup(batchID)
	if err != nil {
		return "", false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.b.Status != StatusProcessing {
		return e.b.Status, false, nil
	}

	anyFailed := false
	for _, t := range e.b.Tasks {
		if !t.Status.Terminal() {
			return e.b.Status, false, nil
		}
		if t.Status == TaskFailed {
			anyFailed = true
		}
	}

	final := StatusCompleted
	switch {
	case anyFailed && e.b.Policy == PolicyFailFast:
		final = StatusFailed
	case e.b.cancelRequested:
		final = StatusCancelled
	}

	e.b.Status = final
	now := time.Now().UTC()
	e.b.CompletedAt = &now

	m.logger.Info("batch finished", "batch_id", batchID, "status", final)
	return final, true, nil
}

// Snapshot returns a deep copy of the batch for safe external reads. The
// cache snapshot is always present, whatever state the batch is in.
func (m *Machine) Snapshot(batchID string) (*Snapshot, error) {
	e, err := m.lookup(batchID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.b
	snap := &Snapshot{
		ID:        b.ID,
		Policy:    b.Policy,
		Status:    b.Status,
		CreatedAt: b.CreatedAt,
		Cache:     b.Cache.Snapshot(),
		Tasks:     make([]TaskSnapshot, 0, len(b.Tasks)),
		Rejected:  append([]RejectedItem(nil), b.Rejected...),
	}
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		snap.CompletedAt = &t
	}

	terminal := 0
	for _, t := range b.Tasks {
		ts := TaskSnapshot{
			ID:         t.ID,
			BatchID:    t.BatchID,
			DocumentID: t.DocumentID,
			Status:     t.Status,
			Cache:      t.Cache,
		}
		if t.StartedAt != nil {
			v := *t.StartedAt
			ts.StartedAt = &v
		}
		if t.CompletedAt != nil {
			v := *t.CompletedAt
			ts.CompletedAt = &v
		}
		if t.Result != nil {
			r := *t.Result
			ts.Result = &r
		}
		if t.Error != nil {
			r := *t.Error
			ts.Error = &r
		}
		if t.Status.Terminal() {
			terminal++
		}
		snap.Tasks = append(snap.Tasks, ts)
	}

	switch {
	case b.Status.Terminal():
		snap.Percent = 100
	case len(b.Tasks) > 0:
		snap.Percent = 100 * float64(terminal) / float64(len(b.Tasks))
	}

	return snap, nil
}

// List returns snapshots of every tracked batch, newest first.
func (m *Machine) List() []*Snapshot {
	m.mu.RLock()
	ids := make([]string, 0, len(m.batches))
	for id := range m.batches {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	snaps := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, err := m.Snapshot(id); err == nil {
			snaps = append(snaps, snap)
		}
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// TaskSnapshotByID returns a copy of one task.
func (m *Machine) TaskSnapshotByID(batchID, taskID string) (*TaskSnapshot, error) {
	snap, err := m.Snapshot(batchID)
	if err != nil {
		return nil, err
	}
	for i := range snap.Tasks {
		if snap.Tasks[i].ID == taskID {
			return &snap.Tasks[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}
