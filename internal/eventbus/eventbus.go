// Package eventbus broadcasts SystemEvents from the editing pipeline to
// interested subscribers (the CLI, a future TUI, transparency tooling).
// It favors liveness over completeness: a slow subscriber loses events
// rather than stalling publishers.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"ploke/internal/logging"
	"ploke/internal/metrics"
)

// EventKind names the vocabulary of events the pipeline emits.
type EventKind string

const (
	KindToolCallRequested  EventKind = "tool_call_requested"
	KindToolCallCompleted  EventKind = "tool_call_completed"
	KindToolCallFailed     EventKind = "tool_call_failed"
	KindProposalStaged     EventKind = "proposal_staged"
	KindProposalApproved   EventKind = "proposal_approved"
	KindProposalDenied     EventKind = "proposal_denied"
	KindReIndex            EventKind = "reindex"
	KindIndexingProgress   EventKind = "indexing_progress"
	KindIndexingCompleted  EventKind = "indexing_completed"
	KindMessageUpdated     EventKind = "message_updated"
)

// Correlation ties an event back to the request that produced it.
type Correlation struct {
	RequestID string
	ParentID  string
	CallID    string
}

// SystemEvent is a single broadcastable occurrence.
type SystemEvent struct {
	Sequence    uint64
	Kind        EventKind
	Timestamp   time.Time
	Correlation Correlation
	Payload     map[string]interface{}
}

// subscriber wraps a delivery channel with overflow accounting: a full
// channel drops the event instead of blocking the publisher.
type subscriber struct {
	id      uint64
	ch      chan SystemEvent
	kinds   map[EventKind]bool // nil means "all kinds"
	dropped atomic.Uint64
}

// Stats reports a subscriber's delivery health.
type Stats struct {
	SubscriberID uint64
	Delivered    uint64
	Dropped      uint64
}

// Bus is the pub/sub event bus. Zero value is not usable; use New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextSubID   uint64
	sequence    atomic.Uint64
	bufferSize  int
	delivered   map[uint64]*atomic.Uint64
	closed      atomic.Bool
}

// New constructs a Bus whose per-subscriber channel holds bufferSize
// pending events before it starts dropping.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[uint64]*subscriber),
		bufferSize:  bufferSize,
		delivered:   make(map[uint64]*atomic.Uint64),
	}
}

// Subscription is returned by Subscribe; read Events until Unsubscribe
// or the bus is closed.
type Subscription struct {
	id     uint64
	Events <-chan SystemEvent
	bus    *Bus
}

// Unsubscribe stops delivery and closes the subscription's channel.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Subscribe registers a new subscriber. If kinds is non-empty, only
// events of those kinds are delivered; an empty kinds slice subscribes
// to everything.
func (b *Bus) Subscribe(kinds ...EventKind) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++

	var filter map[EventKind]bool
	if len(kinds) > 0 {
		filter = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			filter[k] = true
		}
	}

	sub := &subscriber{id: id, ch: make(chan SystemEvent, b.bufferSize), kinds: filter}
	b.subscribers[id] = sub
	b.delivered[id] = &atomic.Uint64{}

	logging.EventbusDebug("subscribe: id=%d kinds=%v", id, kinds)
	return &Subscription{id: id, Events: sub.ch, bus: b}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
		delete(b.delivered, id)
		logging.EventbusDebug("unsubscribe: id=%d", id)
	}
}

// Emit publishes an event to every matching subscriber without blocking.
// Subscribers whose buffer is full have the event dropped and their
// Dropped counter incremented; Emit itself never blocks or fails.
func (b *Bus) Emit(kind EventKind, corr Correlation, payload map[string]interface{}) {
	if b.closed.Load() {
		return
	}
	evt := SystemEvent{
		Sequence:    b.sequence.Add(1),
		Kind:        kind,
		Timestamp:   time.Now(),
		Correlation: corr,
		Payload:     payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if sub.kinds != nil && !sub.kinds[kind] {
			continue
		}
		select {
		case sub.ch <- evt:
			if c, ok := b.delivered[sub.id]; ok {
				c.Add(1)
			}
		default:
			sub.dropped.Add(1)
			metrics.ObserveEventDropped(string(kind))
			logging.EventbusDebug("emit: dropped %s for subscriber %d (buffer full)", kind, sub.id)
		}
	}
}

// Stats returns per-subscriber delivery counters, taken under the same
// lock Emit uses so a caller can diagnose a lagging consumer.
func (b *Bus) Stats() []Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Stats, 0, len(b.subscribers))
	for id, sub := range b.subscribers {
		delivered := uint64(0)
		if c, ok := b.delivered[id]; ok {
			delivered = c.Load()
		}
		out = append(out, Stats{SubscriberID: id, Delivered: delivered, Dropped: sub.dropped.Load()})
	}
	return out
}

// Close shuts the bus down, closing every subscriber channel. Emit
// becomes a no-op afterward.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
		delete(b.delivered, id)
	}
}
