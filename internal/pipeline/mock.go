package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blingtien/rag-system-sub000/internal/metrics"
)

// MockResolver is a Resolver for testing.
type MockResolver struct {
	// Known maps document IDs to handles. Unknown IDs resolve to
	// ErrNotFound.
	Known map[string]*Handle

	// ResolveErr, when set for an ID, is returned instead of a handle.
	ResolveErr map[string]error
}

// NewMockResolver creates a resolver that knows the given document IDs.
func NewMockResolver(ids ...string) *MockResolver {
	known := make(map[string]*Handle, len(ids))
	for _, id := range ids {
		known[id] = &Handle{DocumentID: id, Path: "/mock/" + id, ContentType: "text/plain"}
	}
	return &MockResolver{Known: known, ResolveErr: make(map[string]error)}
}

// Resolve implements Resolver.
func (r *MockResolver) Resolve(ctx context.Context, documentID string) (*Handle, error) {
	if err, ok := r.ResolveErr[documentID]; ok {
		return nil, err
	}
	h, ok := r.Known[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, documentID)
	}
	return h, nil
}

// MockProcessor is a Processor for testing. Per-document failures,
// latency, and cache outcomes are configurable, and it tracks the peak
// number of concurrent Process calls for concurrency-ceiling assertions.
type MockProcessor struct {
	// Latency delays every call.
	Latency time.Duration

	mu       sync.Mutex
	failWith map[string]error
	failFor  map[string]int // remaining failures before success
	outcomes map[string]metrics.Outcome

	calls   atomic.Int64
	current atomic.Int64
	peak    atomic.Int64
}

// NewMockProcessor creates a processor that succeeds with a cache miss
// for every document.
func NewMockProcessor() *MockProcessor {
	return &MockProcessor{
		failWith: make(map[string]error),
		failFor:  make(map[string]int),
		outcomes: make(map[string]metrics.Outcome),
	}
}

// FailWith makes every call for documentID return err.
func (p *MockProcessor) FailWith(documentID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith[documentID] = err
}

// FailTimes makes the first n calls for documentID return err, then
// succeed. Used to exercise retry behavior.
func (p *MockProcessor) FailTimes(documentID string, n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith[documentID] = err
	p.failFor[documentID] = n
}

// SetOutcome sets the cache outcome reported for documentID.
func (p *MockProcessor) SetOutcome(documentID string, outcome metrics.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes[documentID] = outcome
}

// Calls returns the total number of Process invocations.
func (p *MockProcessor) Calls() int {
	return int(p.calls.Load())
}

// PeakConcurrent returns the maximum number of simultaneous Process
// calls observed.
func (p *MockProcessor) PeakConcurrent() int {
	return int(p.peak.Load())
}

// Process implements Processor.
func (p *MockProcessor) Process(ctx context.Context, h *Handle, opts Options) (*Result, error) {
	start := time.Now()
	p.calls.Add(1)

	n := p.current.Add(1)
	defer p.current.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}

	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	err, failing := p.failWith[h.DocumentID]
	if failing {
		if remaining, bounded := p.failFor[h.DocumentID]; bounded {
			if remaining <= 0 {
				failing = false
			} else {
				p.failFor[h.DocumentID] = remaining - 1
			}
		}
	}
	outcome, hasOutcome := p.outcomes[h.DocumentID]
	p.mu.Unlock()

	if failing {
		return nil, err
	}

	if !hasOutcome {
		outcome = metrics.OutcomeMiss
	}
	res := &Result{
		Blocks:   5,
		Outcome:  outcome,
		Duration: time.Since(start),
	}
	if outcome == metrics.OutcomeHit {
		res.TimeSaved = 3 * time.Second
	}
	return res, nil
}
