package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/workforce-ai/compute/internal/domain"
)

// JobRunner submits and looks up paid feature jobs.
type JobRunner interface {
	Submit(ctx context.Context, job domain.Job) (domain.Job, error)
	Get(id string) (*domain.Job, error)
}

// ─── Live Account Feed ──────────────────────────────────────────────────────
// UI panels follow the balance through Server-Sent Events instead of
// polling. Every ledger mutation becomes one event.

// AccountEvent is one live feed message.
type AccountEvent struct {
	Type    string          `json:"type"` // "account" or "logged_out"
	Account *domain.Account `json:"account,omitempty"`
}

// LiveHub fans account snapshots out to SSE clients.
type LiveHub struct {
	mu        sync.Mutex
	clients   map[chan []byte]struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLiveHub creates an empty hub.
func NewLiveHub() *LiveHub {
	return &LiveHub{
		clients: make(map[chan []byte]struct{}),
		done:    make(chan struct{}),
	}
}

// Close ends every open stream. Register it with http.Server.RegisterOnShutdown.
func (h *LiveHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Listener adapts the hub to a ledger listener.
func (h *LiveHub) Listener() func(*domain.Account) {
	return func(acct *domain.Account) {
		if acct == nil {
			h.Broadcast(AccountEvent{Type: "logged_out"})
			return
		}
		h.Broadcast(AccountEvent{Type: "account", Account: acct})
	}
}

// Broadcast sends an event to all connected clients.
func (h *LiveHub) Broadcast(event AccountEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, drop message
		}
	}
}

// Subscribe registers a new client. Returns the channel and an unsubscribe func.
func (h *LiveHub) Subscribe() (chan []byte, func()) {
	ch := make(chan []byte, 32)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// ClientCount returns the number of connected clients.
func (h *LiveHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleSSE serves the live account feed via Server-Sent Events.
// GET /api/account/live
func (h *LiveHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch, unsub := h.Subscribe()
	defer unsub()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case data := <-ch:
			w.Write([]byte("data: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
