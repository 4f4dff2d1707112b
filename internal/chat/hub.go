package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Hub manages all connected clients and handles broadcast.
// Both TCP and WebSocket listeners share a single Hub instance.
type Hub struct {
	clients map[ID]*Client
	closed  bool
	mu      sync.RWMutex

	logger  *slog.Logger
	metrics *Metrics
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub logger. Clients created for the hub inherit it.
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics sets the collectors the hub and its clients record to.
func WithMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a new Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[ID]*Client),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if _, ok := h.clients[c.id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, c.id)
	}
	h.clients[c.id] = c
	h.metrics.clientRegistered()
	return nil
}

// Unregister removes a client from the hub.
// It fails with ErrNotFound when that exact client is not registered.
func (h *Hub) Unregister(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.id]; !ok || cur != c {
		return fmt.Errorf("%w: %s", ErrNotFound, c.id)
	}
	delete(h.clients, c.id)
	h.metrics.clientUnregistered()
	return nil
}

// Join registers c and announces it to everybody else.
func (h *Hub) Join(c *Client) error {
	if err := h.Register(c); err != nil {
		return err
	}
	h.logger.Info("client joined", "client", c.id.String(), "name", c.name, "remote", c.RemoteAddr())
	h.BroadcastExcept(c.id, JoinedMessage(c.name).Payload)
	return nil
}

// Leave closes c and tells the remaining clients it has left.
// Only the first call for a client announces anything.
func (h *Hub) Leave(c *Client) {
	if first, _ := c.close(); !first {
		return
	}
	h.metrics.clientQuit()
	h.logger.Info("client left", "client", c.id.String(), "name", c.name)
	h.BroadcastExcept(c.id, LeftMessage(c.name).Payload)
}

// BroadcastExcept queues payload to every registered client except sender
// and returns the number of clients it was queued to.
//
// Recipients are snapshotted under the read lock and served outside of it.
// A recipient whose queue is full is disconnected; the broadcast never waits
// for it.
func (h *Hub) BroadcastExcept(sender ID, payload []byte) int {
	delivered := 0
	for _, c := range h.snapshot(sender) {
		if err := c.Send(payload); err != nil {
			h.metrics.delivered(false)
			h.drop(c, err)
			continue
		}
		h.metrics.delivered(true)
		delivered++
	}
	return delivered
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients returns the registered clients ordered by ID.
func (h *Hub) Clients() []*Client {
	return h.snapshot(SystemID)
}

// Shutdown closes every client and rejects further registrations.
// It is safe to call more than once.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.Close()
	}
	h.logger.Info("hub shut down", "clients", len(clients))
}

func (h *Hub) snapshot(except ID) []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		if id != except {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	slices.SortFunc(clients, func(a, b *Client) int { return compareIDs(a.id, b.id) })
	return clients
}

func (h *Hub) drop(c *Client, err error) {
	if errors.Is(err, ErrClientClosed) {
		return
	}
	h.metrics.evicted(evictQueueFull)
	h.logger.Warn("client cannot keep up, disconnecting",
		"client", c.id.String(), "name", c.name, "err", err)
	_ = c.Close()
}
