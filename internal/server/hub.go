// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"log"
	"sync"

	"github.com/jeranaias/pinac/internal/stream"
)

// DefaultSubscriberBuffer is the per-subscriber event queue length.
const DefaultSubscriberBuffer = 256

// Hub fans stream events out to every connected event-stream client. It
// implements stream.Sink so the session manager can publish into it.
//
// A subscriber whose queue is full is disconnected rather than silently
// losing events; it can reconnect and will see later sessions intact.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]chan stream.Event
	next   uint64
	buffer int
	closed bool
}

// NewHub creates a hub. buffer <= 0 uses DefaultSubscriberBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{subs: make(map[uint64]chan stream.Event), buffer: buffer}
}

// Subscribe registers a new listener. The returned channel is closed when
// the listener is dropped, when unsubscribe is called or when the hub
// closes. unsubscribe is safe to call more than once.
func (h *Hub) Subscribe() (<-chan stream.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan stream.Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.next
	h.next++
	h.subs[id] = ch

	return ch, func() { h.remove(id) }
}

// Subscribers returns the number of connected listeners.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every listener. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// OnChunk implements stream.Sink.
func (h *Hub) OnChunk(sessionID, text string) {
	h.publish(stream.Event{Type: stream.EventData, SessionID: sessionID, Content: text})
}

// OnError implements stream.Sink.
func (h *Hub) OnError(sessionID, message string) {
	h.publish(stream.Event{Type: stream.EventError, SessionID: sessionID, Message: message})
}

// OnDone implements stream.Sink.
func (h *Hub) OnDone(sessionID string) {
	h.publish(stream.Event{Type: stream.EventDone, SessionID: sessionID})
}

func (h *Hub) publish(e stream.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// RELIABILITY: never block the session goroutine on a slow client.
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			log.Printf("[server] event subscriber %d too slow, disconnecting", id)
			close(ch)
			delete(h.subs, id)
		}
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}
