// Package ws bridges the Redis signal bus to WebSocket clients so UIs and
// indexers can follow settlement events live.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/truthmarkets/settled/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must stay under pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// Config captures runtime metadata used in hub status snapshots sent to
// WebSocket clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans settlement events from the Redis signal bus out to connected
// WebSocket clients, honouring each client's event-type filter.
type Hub struct {
	bus       domain.SignalBus
	logger    *slog.Logger
	mode      string
	startedAt time.Time

	broadcast chan []byte

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a new WebSocket hub that bridges a Redis SignalBus to
// connected WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	h := &Hub{
		bus:       bus,
		logger:    logger,
		mode:      cfg.Mode,
		startedAt: cfg.StartedAt,
		broadcast: make(chan []byte, 256),
		clients:   make(map[*client]struct{}),
	}
	if h.mode == "" {
		h.mode = "unknown"
	}
	if h.startedAt.IsZero() {
		h.startedAt = time.Now().UTC()
	}
	return h
}

// attach registers a client and returns the new connection count.
func (h *Hub) attach(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

// detach removes a client if still registered, closing its send channel
// exactly once.
func (h *Hub) detach(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	return len(h.clients)
}

// Run consumes bus events and fans them out until the context is cancelled,
// then disconnects every client. It should be called in a goroutine.
func (h *Hub) Run(ctx context.Context) error {
	go h.relayBus(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case data := <-h.broadcast:
			h.fanout(data)
		}
	}
}

// fanout delivers one payload to every client whose filter admits it. Slow
// clients lose the message rather than stalling the loop.
func (h *Hub) fanout(data []byte) {
	event := eventType(data)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.allows(event) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// relayBus subscribes to the settlement pub/sub channel and forwards
// received payloads to the hub's broadcast channel.
func (h *Hub) relayBus(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, domain.EventsChannel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", domain.EventsChannel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", domain.EventsChannel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", domain.EventsChannel),
				)
				return
			}
			h.broadcast <- data
		}
	}
}

// eventType pulls the event name out of a payload for client-side filtering.
func eventType(data []byte) string {
	var env struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	return env.Event
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		filter: make(map[string]struct{}),
	}

	total := h.attach(c)
	h.logger.Info("ws: client connected", slog.Int("total_clients", total))
	c.pushStatus()

	go c.writePump()
	go c.readPump()
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter map[string]struct{} // event-type filter; empty means all events
}

// filterRequest is the JSON message a client sends to narrow or widen its
// event-type filter.
type filterRequest struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Events []string `json:"events"` // event type names
}

// allows reports whether the client's filter admits the given event type.
func (c *client) allows(event string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.filter) == 0 {
		return true
	}
	_, ok := c.filter[event]
	return ok
}

// applyFilter processes a subscribe or unsubscribe request. An empty filter
// means the client receives every event.
func (c *client) applyFilter(req filterRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range req.Events {
		switch req.Action {
		case "subscribe":
			c.filter[e] = struct{}{}
		case "unsubscribe":
			delete(c.filter, e)
		}
	}
}

// pushStatus queues a small JSON envelope so clients can immediately mark
// the connection as healthy even when no settlement events are flowing yet.
func (c *client) pushStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"event": "server_status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"connected":      true,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// readPump reads frames from the connection. Incoming text frames are only
// ever filter requests; anything else is ignored.
func (c *client) readPump() {
	defer func() {
		total := c.hub.detach(c)
		c.hub.logger.Info("ws: client disconnected", slog.Int("total_clients", total))
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var req filterRequest
		if err := json.Unmarshal(message, &req); err == nil && req.Action != "" {
			c.applyFilter(req)
		}
	}
}

// writePump drains the send channel onto the wire as JSON text frames, with
// periodic ping frames for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
