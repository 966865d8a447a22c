package validate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/blingtien/rag-system-sub000/internal/locks"
	"github.com/blingtien/rag-system-sub000/internal/pipeline"
)

func rawOptions(t *testing.T, s string) *json.RawMessage {
	t.Helper()
	raw := json.RawMessage(s)
	return &raw
}

func TestPartition_AcceptsKnownDocuments(t *testing.T) {
	v := New(pipeline.NewMockResolver("a.txt", "b.txt"), locks.New(), nil)

	part, err := v.Partition(context.Background(), []Item{
		{DocumentID: "a.txt"},
		{DocumentID: "b.txt", Options: rawOptions(t, `{"parser":"pdf","images":false}`)},
	})
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}

	if len(part.Valid) != 2 || len(part.Invalid) != 0 {
		t.Fatalf("valid=%d invalid=%d, want 2/0", len(part.Valid), len(part.Invalid))
	}
	if got := part.Valid[0].Options; got != pipeline.DefaultOptions() {
		t.Errorf("omitted options = %+v, want defaults", got)
	}
	if got := part.Valid[1].Options; got.Parser != "pdf" || got.Images {
		t.Errorf("options = %+v, want parser=pdf images=false", got)
	}
	// Fields not present in the submitted options keep their defaults.
	if !part.Valid[1].Options.Tables {
		t.Error("tables should default to true")
	}
}

func TestPartition_RejectsUnknownDocument(t *testing.T) {
	v := New(pipeline.NewMockResolver("a.txt"), locks.New(), nil)

	part, err := v.Partition(context.Background(), []Item{
		{DocumentID: "a.txt"},
		{DocumentID: "ghost.txt"},
	})
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}

	if len(part.Valid) != 1 || len(part.Invalid) != 1 {
		t.Fatalf("valid=%d invalid=%d, want 1/1", len(part.Valid), len(part.Invalid))
	}
	if part.Invalid[0].DocumentID != "ghost.txt" {
		t.Errorf("rejected %q", part.Invalid[0].DocumentID)
	}
}

func TestPartition_DeduplicatesKeepingFirst(t *testing.T) {
	v := New(pipeline.NewMockResolver("a.txt", "b.txt"), locks.New(), nil)

	part, err := v.Partition(context.Background(), []Item{
		{DocumentID: "a.txt"},
		{DocumentID: "a.txt"},
		{DocumentID: "b.txt"},
	})
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}

	if len(part.Valid) != 2 {
		t.Fatalf("valid=%d, want 2", len(part.Valid))
	}
	if len(part.Invalid) != 1 || part.Invalid[0].Reason != "duplicate-in-batch" {
		t.Fatalf("invalid = %+v, want one duplicate-in-batch", part.Invalid)
	}
}

func TestPartition_RejectsLockedDocument(t *testing.T) {
	lockTable := locks.New()
	if !lockTable.TryAcquire("documents", "busy.txt") {
		t.Fatal("setup: could not take lock")
	}

	v := New(pipeline.NewMockResolver("busy.txt"), lockTable, nil)
	part, err := v.Partition(context.Background(), []Item{{DocumentID: "busy.txt"}})
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}

	if len(part.Invalid) != 1 || part.Invalid[0].Reason != "already-processing" {
		t.Fatalf("invalid = %+v, want already-processing", part.Invalid)
	}
}

func TestPartition_RejectsBadOptions(t *testing.T) {
	v := New(pipeline.NewMockResolver("a.txt"), locks.New(), nil)

	tests := []struct {
		name string
		raw  string
	}{
		{"unknown parser", `{"parser":"ocr"}`},
		{"wrong type", `{"images":"yes"}`},
		{"unknown field", `{"languages":["en"]}`},
		{"not json", `{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			part, err := v.Partition(context.Background(), []Item{
				{DocumentID: "a.txt", Options: rawOptions(t, tt.raw)},
			})
			if err != nil {
				t.Fatalf("Partition: %v", err)
			}
			if len(part.Invalid) != 1 {
				t.Fatalf("invalid = %+v, want one rejection", part.Invalid)
			}
		})
	}
}

func TestPartition_RejectsEmptyDocumentID(t *testing.T) {
	v := New(pipeline.NewMockResolver(), locks.New(), nil)

	part, err := v.Partition(context.Background(), []Item{{DocumentID: ""}})
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if len(part.Valid) != 0 || len(part.Invalid) != 1 {
		t.Fatalf("valid=%d invalid=%d, want 0/1", len(part.Valid), len(part.Invalid))
	}
}
