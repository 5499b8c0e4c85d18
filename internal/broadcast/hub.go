// Package broadcast provides the agent-scoped event fan-out: an in-memory
// hub plus an SSE HTTP server for live subscribers.
package broadcast

import (
	"sync"
	"time"
)

// subscriberBuffer is the per-subscriber channel capacity. Broadcast is
// fire-and-forget: a full subscriber drops events rather than blocking the
// publisher.
const subscriberBuffer = 32

// Broadcaster pushes an event to live subscribers scoped by agent id.
type Broadcaster interface {
	Broadcast(event string, payload any, scopeID string)
}

// Envelope is one broadcast item as delivered to subscribers.
type Envelope struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	ScopeID   string    `json:"scope_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub is an in-memory Broadcaster with per-agent subscriber registries.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Envelope]struct{} // scopeID → subscribers
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Envelope]struct{})}
}

// Broadcast delivers the event to every subscriber of the scope. Slow
// subscribers are skipped.
func (h *Hub) Broadcast(event string, payload any, scopeID string) {
	env := Envelope{Event: event, Payload: payload, ScopeID: scopeID, Timestamp: time.Now()}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[scopeID] {
		select {
		case ch <- env:
		default:
		}
	}
}

// Subscribe registers a new subscriber for an agent scope and returns its
// channel.
func (h *Hub) Subscribe(scopeID string) chan Envelope {
	ch := make(chan Envelope, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[scopeID] == nil {
		h.subs[scopeID] = make(map[chan Envelope]struct{})
	}
	h.subs[scopeID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(scopeID string, ch chan Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[scopeID]; ok {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(h.subs, scopeID)
		}
	}
}

// SubscriberCount returns the number of live subscribers for a scope.
func (h *Hub) SubscriberCount(scopeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[scopeID])
}

// Nop is a Broadcaster that discards everything.
type Nop struct{}

// Broadcast discards the event.
func (Nop) Broadcast(event string, payload any, scopeID string) {}
