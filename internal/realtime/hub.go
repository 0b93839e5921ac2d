package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"claude-synapse/internal/protocol"
)

// Hub tracks connected websocket clients and broadcasts notifications to
// them. It implements session.EventSink; delivery is best effort and a
// client whose send buffer is full misses the message.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	log     *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		clients: make(map[*client]bool),
		log:     logger,
	}
}

// Notify broadcasts payload to every client under the given message type.
func (h *Hub) Notify(topic string, payload any) {
	msg, err := protocol.NewMessage(topic, payload)
	if err != nil {
		h.log.Warn("encode notification", "topic", topic, "error", err)
		return
	}
	h.broadcast(msg)
}

// broadcast sends a message to all connected clients.
func (h *Hub) broadcast(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, skip.
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

// remove unregisters c and closes its send channel. Once removed, no
// broadcast can write to the channel.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		close(c.send)
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
