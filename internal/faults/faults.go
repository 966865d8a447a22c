// Package faults is the single error boundary for batch processing.
//
// Every failure raised by a collaborator (resolver, per-document pipeline,
// indexing engine) is classified into one taxonomy here and converted into
// a Record instead of propagating raw. This replaces per-call-site error
// handling with one choke point.
package faults

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Category classifies a failure and decides its propagation policy.
type Category string

const (
	// CategoryValidation covers bad input: unknown identifiers,
	// duplicates, rejected options. Surfaced at submission time.
	CategoryValidation Category = "validation"

	// CategoryTransient covers timeouts and temporary unavailability of
	// an external collaborator. Retried with bounded backoff.
	CategoryTransient Category = "transient-external"

	// CategoryCorrupt covers resolvable but unprocessable sources.
	// Never retried.
	CategoryCorrupt Category = "content-corrupt"

	// CategoryExhausted covers capacity and memory-pressure signals.
	// Retried once more, and surfaced as recoverable so the caller may
	// resubmit.
	CategoryExhausted Category = "resource-exhausted"

	// CategoryCancelled marks cooperative cancellation. Terminal but not
	// an error in the user-facing sense.
	CategoryCancelled Category = "cancelled"

	// CategoryInternal covers invariant violations and illegal state
	// transitions. Fatal for the affected task only.
	CategoryInternal Category = "internal"
)

// Retryable reports whether failures in this category should be retried
// before being recorded as failed.
func (c Category) Retryable() bool {
	return c == CategoryTransient || c == CategoryExhausted
}

// Recoverable reports whether the caller may reasonably resubmit the item.
func (c Category) Recoverable() bool {
	switch c {
	case CategoryTransient, CategoryExhausted, CategoryCancelled:
		return true
	default:
		return false
	}
}

// Error is a classified error. Collaborators and internal components tag
// failures with a category so the boundary does not have to guess.
type Error struct {
	Category    Category
	Remediation string
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation tags err as a validation failure.
func Validation(err error) error {
	return &Error{Category: CategoryValidation, Err: err}
}

// Transient tags err as a transient external failure.
func Transient(err error) error {
	return &Error{Category: CategoryTransient, Err: err}
}

// Corrupt tags err as unprocessable source content, with a remediation
// hint for the caller.
func Corrupt(err error, remediation string) error {
	return &Error{Category: CategoryCorrupt, Remediation: remediation, Err: err}
}

// Exhausted tags err as a resource-exhaustion signal.
func Exhausted(err error) error {
	return &Error{Category: CategoryExhausted, Err: err}
}

// Internal tags err as an invariant violation.
func Internal(err error) error {
	return &Error{Category: CategoryInternal, Err: err}
}

// Classify maps an error to its category. Untagged errors default to
// CategoryInternal so nothing is ever silently swallowed as benign.
func Classify(err error) Category {
	if err == nil {
		return ""
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category
	}

	if errors.Is(err, context.Canceled) {
		return CategoryCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Task timeout. Treated as a transient external condition.
		return CategoryTransient
	}

	return CategoryInternal
}

// Record is the durable description of a classified failure.
type Record struct {
	Category    Category  `json:"category"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	Remediation string    `json:"remediation,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewRecord classifies err and builds its Record.
func NewRecord(taskID string, err error) *Record {
	cat := Classify(err)

	rec := &Record{
		Category:    cat,
		Message:     err.Error(),
		Recoverable: cat.Recoverable(),
		TaskID:      taskID,
		Timestamp:   time.Now().UTC(),
	}

	var fe *Error
	if errors.As(err, &fe) {
		rec.Remediation = fe.Remediation
	}

	return rec
}
