package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// runEvent is the wire form of an engine event. Browsers filter on run_id
// because every run created through the API shares one socket.
type runEvent struct {
	RunID     string           `json:"run_id"`
	Type      engine.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      interface{}      `json:"data,omitempty"`
}

// eventHub forwards the events of every run the server holds to all
// connected websocket clients.
type eventHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	subs    map[string]chan engine.Event // run id -> bus subscription
	buses   map[string]*engine.EventBus
	out     chan runEvent
	logger  *slog.Logger
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{
		clients: make(map[*websocket.Conn]struct{}),
		subs:    make(map[string]chan engine.Event),
		buses:   make(map[string]*engine.EventBus),
		out:     make(chan runEvent, 256),
		logger:  logger,
	}
}

// watch subscribes to a run's bus. Watching a run twice replaces the old
// subscription; the forwarder exits when its channel is closed.
func (h *eventHub) watch(runID string, bus *engine.EventBus) {
	h.mu.Lock()
	if old, ok := h.subs[runID]; ok {
		h.buses[runID].Unsubscribe(old)
	}
	ch := bus.Subscribe()
	h.subs[runID] = ch
	h.buses[runID] = bus
	h.mu.Unlock()

	go func() {
		for evt := range ch {
			h.out <- runEvent{RunID: runID, Type: evt.Type, Timestamp: evt.Timestamp, Data: evt.Data}
		}
	}()
}

// run broadcasts forwarded events until the hub is dropped.
func (h *eventHub) run() {
	for evt := range h.out {
		data, err := json.Marshal(evt)
		if err != nil {
			h.logger.Debug("drop event", "run_id", evt.RunID, "type", evt.Type, "error", err)
			continue
		}

		h.mu.Lock()
		for conn := range h.clients {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("websocket client gone", "error", err)
				conn.Close()
				delete(h.clients, conn)
			}
		}
		h.mu.Unlock()
	}
}

func (h *eventHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// serveWS upgrades the connection and keeps it registered until the client
// hangs up. Clients never send anything meaningful.
func (h *eventHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
