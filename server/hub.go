// Package server implements the WebSocket gateway: it fans reader events out
// to connected clients and feeds client commands into the reader service.
package server

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tapwire/tapwire-agent/protocol"
)

// subscriberBuffer bounds each subscriber queue. Oldest events are dropped
// for subscribers that fall behind.
const subscriberBuffer = 100

// Hub is the broadcast channel between the reader service and the WebSocket
// clients. Publish is safe to call from the blocking reader goroutine; each
// subscriber drains its own buffered queue on the async side.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan protocol.Outgoing
	closed      bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]chan protocol.Outgoing),
	}
}

// Subscribe registers a new subscriber and returns its ID and event queue.
func (h *Hub) Subscribe() (string, <-chan protocol.Outgoing) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan protocol.Outgoing, subscriberBuffer)
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its queue.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// Publish delivers an event to every subscriber in production order. A full
// subscriber queue sheds its oldest event to make room, so a slow client
// never blocks the reader goroutine.
func (h *Hub) Publish(ev protocol.Outgoing) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Close shuts down the hub and all subscriber queues.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}
