package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/blingtien/rag-system-sub000/internal/batch"
)

// SinkConfig configures the write-behind sink.
type SinkConfig struct {
	Store         *Store
	BatchSize     int           // Flush after N snapshots (default: 32)
	FlushInterval time.Duration // Or after duration (default: 2s)
	QueueSize     int           // Buffer size (default: 256)
	Logger        *slog.Logger
}

// Sink persists batch snapshots asynchronously so persistence never sits
// on the task completion path. Snapshots of the same batch queued within
// one flush window coalesce to the latest.
type Sink struct {
	store  *Store
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	queue   chan *batch.Snapshot
	pending map[string]*batch.Snapshot
	order   []string
	mu      sync.Mutex
	flushCh chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSink creates a write-behind sink over store.
func NewSink(cfg SinkConfig) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Sink{
		store:         cfg.Store,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan *batch.Snapshot, cfg.QueueSize),
		pending:       make(map[string]*batch.Snapshot),
		flushCh:       make(chan struct{}, 1),
	}
}

// Start begins persisting queued snapshots.
func (s *Sink) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
}

// Stop drains the queue, flushes everything pending, and shuts down.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		close(s.queue)
		s.wg.Wait()
		s.cancel()
		s.logger.Debug("store sink stopped")
	})
}

// Send queues a snapshot for persistence. Fire-and-forget; if the sink is
// stopped the snapshot is dropped with a warning.
func (s *Sink) Send(snap *batch.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("store sink closed, dropping snapshot", "batch_id", snap.ID)
		}
	}()

	select {
	case s.queue <- snap:
	default:
		select {
		case s.queue <- snap:
		case <-s.ctx.Done():
			s.logger.Warn("store sink closed, dropping snapshot", "batch_id", snap.ID)
		}
	}
}

// Flush forces an immediate flush of pending snapshots.
func (s *Sink) Flush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
		// Flush already pending.
	}
}

func (s *Sink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-s.queue:
			if !ok {
				s.flushPending()
				return
			}
			s.add(snap)

		case <-ticker.C:
			s.flushPending()

		case <-s.flushCh:
			s.flushPending()
		}
	}
}

func (s *Sink) add(snap *batch.Snapshot) {
	s.mu.Lock()
	if _, queued := s.pending[snap.ID]; !queued {
		s.order = append(s.order, snap.ID)
	}
	s.pending[snap.ID] = snap
	shouldFlush := len(s.order) >= s.batchSize
	s.mu.Unlock()

	if shouldFlush {
		s.flushPending()
	}
}

func (s *Sink) flushPending() {
	s.mu.Lock()
	if len(s.order) == 0 {
		s.mu.Unlock()
		return
	}
	pending := s.pending
	order := s.order
	s.pending = make(map[string]*batch.Snapshot)
	s.order = nil
	s.mu.Unlock()

	s.logger.Debug("flushing snapshots", "count", len(order))

	for _, id := range order {
		if err := s.store.SaveBatch(pending[id]); err != nil {
			s.logger.Error("persisting batch failed", "batch_id", id, "error", err)
		}
	}
}
