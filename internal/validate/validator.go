// Package validate performs submission-time validation of batch items.
// Validation partitions the submission into the documents a batch will
// process and the ones it rejects; it never mutates any state.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/blingtien/rag-system-sub000/internal/batch"
	"github.com/blingtien/rag-system-sub000/internal/locks"
	"github.com/blingtien/rag-system-sub000/internal/pipeline"
)

// optionsSchema constrains per-document processing options. Options are
// interpreted exactly once, here; everything downstream trusts them.
const optionsSchema = `{
	"type": "object",
	"properties": {
		"parser":    {"type": "string", "enum": ["auto", "text", "pdf", "image"]},
		"images":    {"type": "boolean"},
		"tables":    {"type": "boolean"},
		"equations": {"type": "boolean"}
	},
	"additionalProperties": false
}`

// Item is one entry of a batch submission. Options are optional; omitted
// options take the pipeline defaults.
type Item struct {
	DocumentID string           `json:"document_id"`
	Options    *json.RawMessage `json:"options,omitempty"`
}

// ValidItem is an accepted document with its fully resolved options.
type ValidItem struct {
	DocumentID string
	Options    pipeline.Options
}

// Partition is the outcome of validating a submission. Every submitted
// document lands in exactly one of the two lists.
type Partition struct {
	Valid   []ValidItem
	Invalid []batch.RejectedItem
}

// Validator checks submitted documents against the resolver, the lock
// table, and the options schema.
type Validator struct {
	resolver pipeline.Resolver
	locks    *locks.Keyed
	schema   *jsonschema.Schema
	logger   *slog.Logger
}

// New creates a validator. The options schema is compiled once here; a
// compile failure is a programming error and panics.
func New(resolver pipeline.Resolver, lockTable *locks.Keyed, logger *slog.Logger) *Validator {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("options.json", strings.NewReader(optionsSchema)); err != nil {
		panic(fmt.Sprintf("load options schema: %v", err))
	}
	schema, err := compiler.Compile("options.json")
	if err != nil {
		panic(fmt.Sprintf("compile options schema: %v", err))
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		resolver: resolver,
		locks:    lockTable,
		schema:   schema,
		logger:   logger,
	}
}

// Partition validates every submitted item and splits the submission into
// accepted and rejected documents. Duplicates keep their first occurrence;
// later occurrences are rejected. Documents locked by another running
// batch are rejected rather than queued.
func (v *Validator) Partition(ctx context.Context, items []Item) (*Partition, error) {
	part := &Partition{}
	seen := make(map[string]bool, len(items))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if item.DocumentID == "" {
			part.Invalid = append(part.Invalid, batch.RejectedItem{
				DocumentID: item.DocumentID,
				Reason:     "document id is empty",
			})
			continue
		}

		if seen[item.DocumentID] {
			part.Invalid = append(part.Invalid, batch.RejectedItem{
				DocumentID: item.DocumentID,
				Reason:     "duplicate-in-batch",
			})
			continue
		}
		seen[item.DocumentID] = true

		opts, err := v.decodeOptions(item.Options)
		if err != nil {
			part.Invalid = append(part.Invalid, batch.RejectedItem{
				DocumentID: item.DocumentID,
				Reason:     err.Error(),
			})
			continue
		}

		if v.locks != nil && v.locks.Held("documents", item.DocumentID) {
			part.Invalid = append(part.Invalid, batch.RejectedItem{
				DocumentID: item.DocumentID,
				Reason:     "already-processing",
			})
			continue
		}

		if _, err := v.resolver.Resolve(ctx, item.DocumentID); err != nil {
			v.logger.Debug("document rejected at validation",
				"document_id", item.DocumentID, "error", err)
			part.Invalid = append(part.Invalid, batch.RejectedItem{
				DocumentID: item.DocumentID,
				Reason:     err.Error(),
			})
			continue
		}

		part.Valid = append(part.Valid, ValidItem{DocumentID: item.DocumentID, Options: opts})
	}

	return part, nil
}

// decodeOptions validates raw options against the schema and merges them
// over the defaults. nil raw means the caller sent no options.
func (v *Validator) decodeOptions(raw *json.RawMessage) (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()
	if raw == nil || len(*raw) == 0 {
		return opts, nil
	}

	var doc any
	if err := json.Unmarshal(*raw, &doc); err != nil {
		return opts, fmt.Errorf("options are not valid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return opts, fmt.Errorf("options do not match schema: %w", err)
	}
	if err := json.Unmarshal(*raw, &opts); err != nil {
		return opts, fmt.Errorf("decode options: %w", err)
	}
	return opts, nil
}
