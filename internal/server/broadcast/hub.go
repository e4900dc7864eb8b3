// Package broadcast fans accepted events out to live subscribers. Delivery
// is best effort: the pull endpoint is the source of truth, the stream only
// shortens the window before a client notices new events.
package broadcast

import (
	"context"
	"sync"

	"github.com/trialware/diarysync/internal/event"
)

// Hub distributes events to an arbitrary number of subscribers. A slow
// subscriber is dropped rather than allowed to block publishers; it will
// reconnect and catch up from its cursor.
type Hub struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[int64]*subscriber
}

type subscriber struct {
	ch         chan *event.Event
	aggregates map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int64]*subscriber)}
}

// Subscribe registers a listener, optionally filtered to a set of
// aggregates (nil means all). The returned cancel must be called to
// release the subscription; the channel closes when it is.
func (h *Hub) Subscribe(aggregateIDs []string) (<-chan *event.Event, func()) {
	sub := &subscriber{ch: make(chan *event.Event, 64)}
	if len(aggregateIDs) > 0 {
		sub.aggregates = make(map[string]struct{}, len(aggregateIDs))
		for _, id := range aggregateIDs {
			sub.aggregates[id] = struct{}{}
		}
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if s, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(s.ch)
			}
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers an event to every matching subscriber without blocking.
func (h *Hub) Publish(ctx context.Context, e *event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.aggregates != nil {
			if _, ok := sub.aggregates[e.AggregateID]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- e:
		default:
			// Buffer full; the subscriber resyncs via pull.
		}
	}
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
