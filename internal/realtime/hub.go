// Package realtime pushes the output of realtime sections to connected clients.
package realtime

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Producer writes one round of realtime output. agent.Agent satisfies it.
type Producer interface {
	ProduceRealtime(w io.Writer) error
}

// Client represents a single realtime subscriber
type Client struct {
	ID        string
	EventChan chan []byte
	Done      chan struct{}
}

// NewClient creates a client with a random ID and a channel holding up to buffer
// pending payloads.
func NewClient(buffer int) *Client {
	return &Client{
		ID:        uuid.NewString(),
		EventChan: make(chan []byte, buffer),
		Done:      make(chan struct{}),
	}
}

// Hub manages realtime clients and broadcasts payloads to them
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// RegisterClient registers a new client
func (h *Hub) RegisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	slog.Info("Realtime client registered", "clientID", client.ID)
}

// UnregisterClient removes a client from the hub.
// The client's Done channel is closed by the handler that created the client, not here.
func (h *Hub) UnregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[clientID]; ok {
		delete(h.clients, clientID)
		slog.Info("Realtime client unregistered", "clientID", clientID)
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends payload to every client. A client whose channel is full misses this
// payload; a slow client never blocks the others.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.EventChan <- payload:
		case <-client.Done:
			// Client disconnected
		default:
			slog.Warn("Realtime client channel full, dropping payload", "clientID", client.ID)
		}
	}
}

// Run produces realtime output every interval and broadcasts it until ctx is done.
// Nothing is produced while no client is connected.
func (h *Hub) Run(ctx context.Context, producer Producer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			var buf bytes.Buffer
			if err := producer.ProduceRealtime(&buf); err != nil {
				slog.Error("Failed to produce realtime output", "error", err)
				continue
			}
			if buf.Len() > 0 {
				h.Broadcast(buf.Bytes())
			}
		}
	}
}
