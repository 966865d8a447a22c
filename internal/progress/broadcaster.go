// Package progress fans out batch processing events to subscribed
// observers.
//
// Delivery is lossy: subscriber buffers are bounded and events are
// dropped rather than blocking the processing path. Consumers that missed
// events reconcile via the batch status query. Ordering is guaranteed per
// task (started before completed/failed) because each task's events are
// published from a single goroutine; no ordering holds across tasks.
package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies the type of a progress event.
type Kind string

const (
	KindTaskStarted    Kind = "task-started"
	KindTaskProgress   Kind = "task-progress"
	KindTaskCompleted  Kind = "task-completed"
	KindTaskFailed     Kind = "task-failed"
	KindBatchCompleted Kind = "batch-completed"
)

// Event is a single pushed notification. Events are append-only and never
// mutated after emission.
type Event struct {
	BatchID   string    `json:"batch_id"`
	TaskID    string    `json:"task_id,omitempty"`
	Kind      Kind      `json:"kind"`
	Percent   float64   `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription is one observer's event stream. C is closed when the batch
// reaches a terminal state or the subscription is closed.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	hub     *Hub
	batchID string
	once    sync.Once
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// HubConfig configures a Hub.
type HubConfig struct {
	// Buffer is the per-subscriber channel depth (default 64).
	Buffer int
	Logger *slog.Logger
}

// Hub routes events to per-batch subscriber sets.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger *slog.Logger

	dropped atomic.Int64
}

// NewHub creates a Hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: cfg.Buffer,
		logger: cfg.Logger,
	}
}

// Subscribe registers an observer for one batch's events.
func (h *Hub) Subscribe(batchID string) *Subscription {
	sub := &Subscription{
		ch:      make(chan Event, h.buffer),
		hub:     h,
		batchID: batchID,
	}
	sub.C = sub.ch

	h.mu.Lock()
	set, ok := h.subs[batchID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[batchID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.batchID]; ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			sub.once.Do(func() { close(sub.ch) })
		}
		if len(set) == 0 {
			delete(h.subs, sub.batchID)
		}
	}
	h.mu.Unlock()
}

// Publish delivers an event to every subscriber of its batch. Slow
// subscribers lose events rather than stalling the publisher.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[ev.BatchID] {
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
			h.logger.Debug("progress event dropped",
				"batch_id", ev.BatchID, "kind", ev.Kind)
		}
	}
}

// CloseBatch closes every subscription for the batch. Called after the
// terminal batch event has been published.
func (h *Hub) CloseBatch(batchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[batchID] {
		sub.once.Do(func() { close(sub.ch) })
	}
	delete(h.subs, batchID)
}

// Dropped returns the total number of events dropped due to full
// subscriber buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
