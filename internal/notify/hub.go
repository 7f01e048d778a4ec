package notify

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"comfyclient/internal/jobclient"
	"comfyclient/pkg/types"
)

const (
	hubBuffer    = 64
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Hub streams events to websocket subscribers. Slow subscribers lose events
// rather than block the client.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan types.EventMessage]struct{}
	closed bool

	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs:     make(map[chan types.EventMessage]struct{}),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		log:      log,
	}
}

func (h *Hub) Publish(e jobclient.Event) {
	msg := ToMessage(e)
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.log.Debug().Str("event", e.Name).Msg("subscriber slow; event dropped")
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func is idempotent.
// After Close the channel is already closed.
func (h *Hub) Subscribe() (<-chan types.EventMessage, func()) {
	ch := make(chan types.EventMessage, hubBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// ServeHTTP upgrades to a websocket and writes one JSON frame per event.
// With ?job_id=N only events of that job are sent.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter uint64
	if v := r.URL.Query().Get("job_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid job_id", http.StatusBadRequest)
			return
		}
		filter = id
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	events, cancel := h.Subscribe()
	defer cancel()

	// Reading is only needed to notice the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case msg, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeTimeout))
				return
			}
			if filter != 0 && msg.JobID != filter {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
