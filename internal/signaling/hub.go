package signaling

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/room"
)

// ErrClientGone is returned by Send when the identity has no live connection.
var ErrClientGone = errors.New("client gone")

// Hub indexes live connections by client identity.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

var _ room.Notifier = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{log: logger, clients: make(map[string]*client)}
}

// Send queues an event for one client. It never blocks on the client's socket.
func (h *Hub) Send(clientID, eventType string, data any) error {
	c := h.get(clientID)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrClientGone, clientID)
	}
	msg, err := encode(eventType, nil, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	return c.enqueue(msg)
}

// Broadcast queues an event for every connected client and returns how many
// accepted it.
func (h *Hub) Broadcast(eventType string, data any) int {
	msg, err := encode(eventType, nil, data)
	if err != nil {
		h.log.Error("encode broadcast failed", "event", eventType, "err", err)
		return 0
	}
	sent := 0
	for _, c := range h.snapshot() {
		if c.enqueue(msg) == nil {
			sent++
		}
	}
	return sent
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every connection with the given close frame. Each
// connection's handler then runs its normal disconnect cleanup.
func (h *Hub) CloseAll(code int, reason string) {
	for _, c := range h.snapshot() {
		c.shutdown(code, reason)
	}
}

func (h *Hub) get(clientID string) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[clientID]
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
}
