// Package metrics tracks cache accounting for batch processing.
package metrics

import (
	"sync"
	"time"
)

// Outcome records whether a document's processing result came from the
// parse cache.
type Outcome string

const (
	// OutcomeHit means a prior processing result was reused.
	OutcomeHit Outcome = "hit"
	// OutcomeMiss means the document was freshly processed.
	OutcomeMiss Outcome = "miss"
	// OutcomeNone means the item never reached the caching decision point
	// (validation failure, cancellation, early error).
	OutcomeNone Outcome = "none"
)

// CacheStats accumulates cache hit/miss counts for a single batch.
//
// The zero value is valid and ready to use. Every batch owns exactly one
// CacheStats from the moment it is created, so no code path can observe
// missing accounting - not even a batch that fails during validation.
type CacheStats struct {
	mu        sync.Mutex
	hits      int
	misses    int
	timeSaved time.Duration
	samples   int
}

// NewCacheStats returns a ready-to-use CacheStats. Provided for call sites
// that want an explicit constructor; the zero value works identically.
func NewCacheStats() *CacheStats {
	return &CacheStats{}
}

// CacheSnapshot is an immutable copy of the counters, suitable for
// embedding in status responses and result payloads.
type CacheSnapshot struct {
	Hits        int   `json:"hits"`
	Misses      int   `json:"misses"`
	TimeSavedMS int64 `json:"time_saved_ms"`
	Samples     int   `json:"samples"`
}

// RecordHit notes that a document's result was served from cache, along
// with the estimated processing time avoided. Safe for concurrent use.
// Returns the updated snapshot.
func (s *CacheStats) RecordHit(timeSaved time.Duration) CacheSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	s.samples++
	s.timeSaved += timeSaved
	return s.snapshotLocked()
}

// RecordMiss notes that a document was freshly processed. Safe for
// concurrent use. Returns the updated snapshot.
func (s *CacheStats) RecordMiss() CacheSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses++
	s.samples++
	return s.snapshotLocked()
}

// Record applies an outcome. OutcomeNone is a no-op: items that never
// reached the caching decision are excluded from hit/miss totals.
func (s *CacheStats) Record(outcome Outcome, timeSaved time.Duration) CacheSnapshot {
	switch outcome {
	case OutcomeHit:
		return s.RecordHit(timeSaved)
	case OutcomeMiss:
		return s.RecordMiss()
	default:
		return s.Snapshot()
	}
}

// Snapshot returns an immutable copy of the current counters.
func (s *CacheStats) Snapshot() CacheSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *CacheStats) snapshotLocked() CacheSnapshot {
	return CacheSnapshot{
		Hits:        s.hits,
		Misses:      s.misses,
		TimeSavedMS: s.timeSaved.Milliseconds(),
		Samples:     s.samples,
	}
}
