package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, ""},
		{"validation", Validation(errors.New("unknown id")), CategoryValidation},
		{"transient", Transient(errors.New("503")), CategoryTransient},
		{"corrupt", Corrupt(errors.New("bad xref"), "re-export the file"), CategoryCorrupt},
		{"exhausted", Exhausted(errors.New("pool full")), CategoryExhausted},
		{"internal tagged", Internal(errors.New("bad transition")), CategoryInternal},
		{"context canceled", context.Canceled, CategoryCancelled},
		{"deadline exceeded", context.DeadlineExceeded, CategoryTransient},
		{"wrapped tagged", fmt.Errorf("stage 2: %w", Corrupt(errors.New("truncated"), "")), CategoryCorrupt},
		{"untagged defaults to internal", errors.New("surprise"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCategory_Retryable(t *testing.T) {
	if !CategoryTransient.Retryable() {
		t.Error("transient-external should be retryable")
	}
	if !CategoryExhausted.Retryable() {
		t.Error("resource-exhausted should be retryable")
	}
	for _, c := range []Category{CategoryValidation, CategoryCorrupt, CategoryCancelled, CategoryInternal} {
		if c.Retryable() {
			t.Errorf("%s should not be retryable", c)
		}
	}
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord("task-1", Corrupt(errors.New("invalid page tree"), "re-export the PDF"))

	if rec.Category != CategoryCorrupt {
		t.Errorf("Category = %q, want %q", rec.Category, CategoryCorrupt)
	}
	if rec.Recoverable {
		t.Error("content-corrupt must not be recoverable")
	}
	if rec.Remediation != "re-export the PDF" {
		t.Errorf("Remediation = %q", rec.Remediation)
	}
	if rec.TaskID != "task-1" {
		t.Errorf("TaskID = %q", rec.TaskID)
	}
	if rec.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestNewRecord_ExhaustedIsRecoverable(t *testing.T) {
	rec := NewRecord("t", Exhausted(errors.New("over capacity")))
	if !rec.Recoverable {
		t.Error("resource-exhausted record must be recoverable so the caller can resubmit")
	}
}
