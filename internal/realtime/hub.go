package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const EventProjectsChanged = "projects.changed"

// Event tells clients to refetch. Silent events must not show a loading
// indicator.
type Event struct {
	Type    string `json:"type"`
	Silent  bool   `json:"silent"`
	Version uint64 `json:"version"`
}

type Hub struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}
}

func NewHub() *Hub { return &Hub{subs: make(map[chan []byte]struct{})} }

func (h *Hub) Subscribe() (chan []byte, func()) {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
}

func (h *Hub) Publish(ev Event) {
	data, _ := json.Marshal(ev)
	h.mu.RLock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default: // slow client, it will catch up on the next event
		}
	}
	h.mu.RUnlock()
}

// StateChanged is registered with state.Store.OnChange.
func (h *Hub) StateChanged(version uint64) {
	h.Publish(Event{Type: EventProjectsChanged, Silent: true, Version: version})
}

func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(msg)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
