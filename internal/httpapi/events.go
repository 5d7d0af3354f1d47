package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/mnemo/internal/memory"
)

// eventHub fans memory lifecycle events out to websocket subscribers.
// Slow subscribers lose events rather than stalling the manager.
type eventHub struct {
	mu     sync.Mutex
	subs   map[chan memory.Event]struct{}
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan memory.Event]struct{})}
}

func (h *eventHub) Broadcast(ev memory.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber queue saturated; drop.
		}
	}
}

func (h *eventHub) Subscribe() chan memory.Event {
	ch := make(chan memory.Event, 64)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

func (h *eventHub) Unsubscribe(ch chan memory.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *eventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	// Optional filter: only events for one session.
	sessionFilter := strings.TrimSpace(r.URL.Query().Get("session_id"))

	// Subscribe before the handshake response goes out so no event
	// published after a successful dial is missed.
	events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(events)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Reader goroutine exists only to detect the peer going away.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(4 << 10)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readerDone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if sessionFilter != "" && ev.SessionID != sessionFilter {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
