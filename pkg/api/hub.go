package api

import (
	"context"
	"sync"

	"dev/bravebird/form-submitter/pkg/models"
)

const subscriberBuffer = 64

// Hub fans attempt events out to websocket subscribers. A subscriber that falls
// behind loses events rather than stalling the run.
type Hub struct {
	mu      sync.Mutex
	subs    map[chan models.AttemptEvent]struct{}
	dropped int
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[chan models.AttemptEvent]struct{})}
}

// Subscribe registers a listener. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe() (<-chan models.AttemptEvent, func()) {
	ch := make(chan models.AttemptEvent, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Emit broadcasts ev without blocking
func (h *Hub) Emit(_ context.Context, ev models.AttemptEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
	return nil
}

// Subscribers reports how many listeners are attached
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped for slow subscribers
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
