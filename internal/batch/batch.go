// Package batch owns the lifecycle of document batches and the tasks
// inside them. The state machine here is the single source of truth for
// what a batch is doing right now.
package batch

import (
	"fmt"
	"time"

	"github.com/blingtien/rag-system-sub000/internal/faults"
	"github.com/blingtien/rag-system-sub000/internal/metrics"
)

// Status is the aggregate state of a batch.
type Status string

const (
	StatusCreated    Status = "created"
	StatusValidating Status = "validating"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TaskStatus is the state of a single document's task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the task status is final.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// Policy decides how a batch reacts to individual task failures. It is a
// mandatory, explicit submission parameter - there is no default.
type Policy string

const (
	// PolicyFailFast treats any task failure as batch failure and stops
	// scheduling remaining work.
	PolicyFailFast Policy = "fail-fast"
	// PolicyBestEffort completes the batch and surfaces per-task
	// failures in the aggregate result.
	PolicyBestEffort Policy = "best-effort"
)

// ParsePolicy validates a caller-supplied policy string. An empty or
// unknown value is a validation error; callers must choose explicitly.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyFailFast:
		return PolicyFailFast, nil
	case PolicyBestEffort:
		return PolicyBestEffort, nil
	case "":
		return "", faults.Validation(fmt.Errorf("policy is required: %q or %q", PolicyFailFast, PolicyBestEffort))
	default:
		return "", faults.Validation(fmt.Errorf("unknown policy %q", s))
	}
}

// TaskResult is the success payload of one task. Populated only when the
// task completes.
type TaskResult struct {
	Blocks     int           `json:"blocks"`
	Duration   time.Duration `json:"duration"`
	FromCache  bool          `json:"from_cache"`
	ResolvedAs string        `json:"resolved_as,omitempty"`
}

// Task is the unit of work for one document within a batch.
type Task struct {
	ID          string          `json:"id"`
	BatchID     string          `json:"batch_id"`
	DocumentID  string          `json:"document_id"`
	Status      TaskStatus      `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      *TaskResult     `json:"result,omitempty"`
	Error       *faults.Record  `json:"error,omitempty"`
	Cache       metrics.Outcome `json:"cache"`
}

// RejectedItem records a document rejected during validation. No task is
// ever created for a rejected item.
type RejectedItem struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}

// Batch is a single submission of documents processed together.
//
// Cache is allocated at creation and never nil: the accounting is
// observable at every point in the batch's life, including a batch that
// fails before processing begins.
type Batch struct {
	ID          string
	Policy      Policy
	Status      Status
	CreatedAt   time.Time
	CompletedAt *time.Time
	Tasks       []*Task
	Rejected    []RejectedItem
	Cache       *metrics.CacheStats

	cancelRequested bool
}

// Snapshot is an immutable copy of a batch for status responses.
type Snapshot struct {
	ID          string                `json:"id"`
	Policy      Policy                `json:"policy"`
	Status      Status                `json:"status"`
	CreatedAt   time.Time             `json:"created_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Tasks       []TaskSnapshot        `json:"tasks"`
	Rejected    []RejectedItem        `json:"rejected,omitempty"`
	Cache       metrics.CacheSnapshot `json:"cache"`
	Percent     float64               `json:"percent"`
}

// TaskSnapshot is an immutable copy of a task.
type TaskSnapshot struct {
	ID          string          `json:"id"`
	BatchID     string          `json:"batch_id"`
	DocumentID  string          `json:"document_id"`
	Status      TaskStatus      `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      *TaskResult     `json:"result,omitempty"`
	Error       *faults.Record  `json:"error,omitempty"`
	Cache       metrics.Outcome `json:"cache"`
}
