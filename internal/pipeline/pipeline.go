// Package pipeline defines the boundary to the external per-document
// collaborators: the resolver that turns a document identifier into a
// readable handle, and the processor that runs parsing, multimodal
// analysis, and indexing.
//
// The coordinator is deliberately blind to what happens inside Process -
// it only sees success/failure, duration, and the cache outcome.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/blingtien/rag-system-sub000/internal/metrics"
)

// ErrNotFound is returned by resolvers for unknown document identifiers.
var ErrNotFound = errors.New("document not found")

// Options are the validated processing options consumed once at
// submission time. They are never re-interpreted per stage.
type Options struct {
	// Parser selects the parsing backend: auto, text, pdf, or image.
	Parser string `json:"parser"`
	// Images enables image description extraction.
	Images bool `json:"images"`
	// Tables enables table extraction.
	Tables bool `json:"tables"`
	// Equations enables equation extraction.
	Equations bool `json:"equations"`
}

// Parsers lists the accepted parser hints.
var Parsers = []string{"auto", "text", "pdf", "image"}

// DefaultOptions returns the options used when a submission omits them.
func DefaultOptions() Options {
	return Options{Parser: "auto", Images: true, Tables: true, Equations: true}
}

// Handle is a readable reference to a resolved document.
type Handle struct {
	DocumentID  string
	Path        string
	Size        int64
	ContentType string
}

// Resolver locates the backing resource for a document identifier.
type Resolver interface {
	// Resolve returns a readable handle, ErrNotFound for unknown
	// identifiers, or a classified error for unreadable/corrupt
	// sources.
	Resolve(ctx context.Context, documentID string) (*Handle, error)
}

// Result is what the coordinator learns from a successful Process call.
type Result struct {
	// Blocks is the number of content blocks extracted and indexed.
	Blocks int
	// Outcome reports whether the result came from the parse cache.
	Outcome metrics.Outcome
	// TimeSaved estimates the processing time avoided on a cache hit.
	TimeSaved time.Duration
	// Duration is the wall time of the call.
	Duration time.Duration
}

// Processor runs the full per-document pipeline (parse, analyze, index)
// for one resolved document. Implementations classify their failures with
// the faults package so the boundary can decide retry behavior.
type Processor interface {
	Process(ctx context.Context, h *Handle, opts Options) (*Result, error)
}
