package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mpifleet/internal/service"
)

const (
	keepAliveInterval = 30 * time.Second
	clientBuffer      = 64
)

// Client represents a connected SSE client
type Client struct {
	id     string
	events chan []byte
}

// Hub fans orchestrator events out to SSE clients
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan service.Event
	log        zerolog.Logger
}

// New creates a new Hub
func New(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan service.Event, 256),
		log:        log.With().Str("component", "sse").Logger(),
	}
}

// Run starts the hub's event loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.events)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Str("client", client.id).Int("total", total).Msg("SSE client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.events)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Str("client", client.id).Int("total", total).Msg("SSE client disconnected")

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.log.Error().Err(err).Msg("Failed to marshal event")
				continue
			}

			msg := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, data))

			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.events <- msg:
				default:
					// Client is slow, skip this message
					h.log.Debug().Str("client", client.id).Msg("SSE client is slow, skipping message")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Forward relays events from an orchestrator subscription until ctx is done
// or events is closed
func (h *Hub) Forward(ctx context.Context, events <-chan service.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

// Broadcast sends an event to all connected clients
func (h *Hub) Broadcast(event service.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn().Str("event", string(event.Type)).Msg("Broadcast channel full, dropping event")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles SSE connections
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := &Client{
		id:     uuid.NewString(),
		events: make(chan []byte, clientBuffer),
	}

	select {
	case h.register <- client:
	case <-r.Context().Done():
		return
	}

	defer func() {
		// The hub may have stopped; never block the handler on it
		select {
		case h.unregister <- client:
		case <-time.After(time.Second):
		}
	}()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.events:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
