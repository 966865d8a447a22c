package metrics

import (
	"sync"
	"testing"
	"time"
)

// TestCacheStats_ZeroValue verifies the zero value is usable without
// any initialization step.
func TestCacheStats_ZeroValue(t *testing.T) {
	var s CacheStats

	snap := s.Snapshot()
	if snap.Hits != 0 || snap.Misses != 0 || snap.TimeSavedMS != 0 || snap.Samples != 0 {
		t.Errorf("zero value snapshot not zeroed: %+v", snap)
	}

	snap = s.RecordHit(2 * time.Second)
	if snap.Hits != 1 || snap.Samples != 1 || snap.TimeSavedMS != 2000 {
		t.Errorf("after RecordHit: %+v", snap)
	}
}

func TestCacheStats_RecordMiss(t *testing.T) {
	s := NewCacheStats()
	s.RecordMiss()
	snap := s.RecordMiss()

	if snap.Misses != 2 {
		t.Errorf("Misses = %d, want 2", snap.Misses)
	}
	if snap.Hits != 0 {
		t.Errorf("Hits = %d, want 0", snap.Hits)
	}
	if snap.Samples != 2 {
		t.Errorf("Samples = %d, want 2", snap.Samples)
	}
}

func TestCacheStats_RecordOutcomeNone(t *testing.T) {
	s := NewCacheStats()
	s.RecordHit(time.Second)
	snap := s.Record(OutcomeNone, 0)

	// OutcomeNone must not count toward hit/miss totals.
	if snap.Hits+snap.Misses != 1 {
		t.Errorf("hits+misses = %d, want 1", snap.Hits+snap.Misses)
	}
	if snap.Samples != 1 {
		t.Errorf("Samples = %d, want 1", snap.Samples)
	}
}

// TestCacheStats_ConcurrentInvariant hammers the mutators from many
// goroutines and checks hits+misses == samples == total records.
func TestCacheStats_ConcurrentInvariant(t *testing.T) {
	s := NewCacheStats()

	const workers = 16
	const perWorker = 200

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if (n+j)%2 == 0 {
					s.RecordHit(time.Millisecond)
				} else {
					s.RecordMiss()
				}
			}
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	total := workers * perWorker
	if snap.Hits+snap.Misses != total {
		t.Errorf("hits+misses = %d, want %d", snap.Hits+snap.Misses, total)
	}
	if snap.Samples != total {
		t.Errorf("Samples = %d, want %d", snap.Samples, total)
	}
}

// TestCacheStats_SnapshotIsCopy verifies mutating after a snapshot does
// not change the snapshot.
func TestCacheStats_SnapshotIsCopy(t *testing.T) {
	s := NewCacheStats()
	s.RecordHit(time.Second)

	snap := s.Snapshot()
	s.RecordMiss()

	if snap.Misses != 0 {
		t.Errorf("snapshot mutated after later record: %+v", snap)
	}
}
