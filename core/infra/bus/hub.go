package bus

import (
	"sync"

	"github.com/cordum/devserver/core/infra/logging"
)

// Hub fans events out to in-process subscribers such as websocket clients.
// Slow subscribers lose events rather than block publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan *Event]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan *Event]struct{})}
}

// Subscribe registers a buffered channel; call the returned func to release it.
func (h *Hub) Subscribe(buffer int) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Event, buffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Publish delivers evt to every subscriber; subject is ignored.
func (h *Hub) Publish(_ string, evt *Event) error {
	if h == nil {
		return errNilBus
	}
	if evt == nil {
		return errNilEvent
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
			logging.Warn("bus", "subscriber full, event dropped", "type", evt.Type, "id", evt.ID)
		}
	}
	return nil
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close releases all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = map[chan *Event]struct{}{}
}
