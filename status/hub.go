// Package status holds the latest logical state of every card and notifies
// consumers (TUI, web API) without ever blocking the publisher.
package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Motor is the logical state of one H-bridge channel.
type Motor struct {
	Direction string `json:"direction"`
	Speed     uint8  `json:"speed"`
}

// Card is the logical state of one motor card as last commanded.
type Card struct {
	Name     string    `json:"name"`
	Position int       `json:"position"`
	Ready    bool      `json:"ready"`
	Standby  bool      `json:"standby"`
	A        Motor     `json:"a"`
	B        Motor     `json:"b"`
	Error    string    `json:"error,omitempty"`
	Updated  time.Time `json:"updated"`
}

// Hub keeps the latest Card per name. Notifications coalesce: any number of
// publishes between two reads of Channel() produce a single wake-up.
type Hub struct {
	mu     sync.Mutex
	cards  map[string]Card
	notify chan struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		cards:  make(map[string]Card),
		notify: make(chan struct{}, 1),
	}
}

// Publish stores c under its name. It never blocks.
func (h *Hub) Publish(c Card) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cards[c.Name] = c

	select {
	case h.notify <- struct{}{}:
	default:
		// a wake-up is already pending
	}
}

// Channel returns the notification channel for use in select statements.
func (h *Hub) Channel() <-chan struct{} {
	return h.notify
}

// Get returns the latest state of the named card.
func (h *Hub) Get(name string) (Card, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cards[name]
	return c, ok
}

// Snapshot returns a copy of all card states.
func (h *Hub) Snapshot() map[string]Card {
	h.mu.Lock()
	defer h.mu.Unlock()
	ret := make(map[string]Card, len(h.cards))
	for name, c := range h.cards {
		ret[name] = c
	}
	return ret
}

// hasPending reports whether a notification is waiting to be consumed.
func (h *Hub) hasPending() bool {
	return len(h.notify) > 0
}

// ServeHTTP answers with the states of all cards as a JSON object keyed by
// card name.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Snapshot()); err != nil {
		slog.Error("Failed to encode card states", "error", err)
	}
}
