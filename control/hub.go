package control

import (
	"log"
	"sync"
)

// Notification is one coalesced event fanned out to stream subscribers.
type Notification struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Hub implements events.Emitter and fans notifications out to any number of
// SSE subscribers. A slow subscriber drops notifications rather than blocking
// the coalescer.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Notification]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Notification]struct{})}
}

// Emit broadcasts one notification. Satisfies events.Emitter.
func (h *Hub) Emit(event string, payload any) {
	log.Printf("[event] %s: %v", event, payload)

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- Notification{Event: event, Payload: payload}:
		default:
		}
	}
}

// Subscribe registers a new stream consumer.
func (h *Hub) Subscribe() chan Notification {
	sub := make(chan Notification, 32)
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(sub chan Notification) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub)
	}
	h.mu.Unlock()
}
