// Package ws pushes dashboard events (price ticks, order results, vault
// and session changes) to connected WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openperps/perpdesk/internal/metrics"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// Events the hub emits. Clients receive all of them unless they narrow
// their subscription.
const (
	EventPrice          = "price"
	EventSession        = "session"
	EventOrderSubmitted = "order_submitted"
	EventPositionClosed = "position_closed"
	EventVaultUpdate    = "vault_update"
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

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed events; empty means all
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to narrow or widen
// which events it receives, e.g. {"action":"subscribe","events":["price"]}.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Events []string `json:"events"`
}

// envelope is the frame format sent to clients.
type envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Hub manages a set of connected WebSocket clients and fans events out
// to them. It satisfies the event-sink interfaces the orchestrator and
// the price refresher publish through.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// broadcastMsg carries an encoded frame along with its event name so
// the hub can route it only to clients subscribed to that event.
type broadcastMsg struct {
	event string
	data  []byte
}

// NewHub creates a hub with no connected clients.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		startedAt:  time.Now().UTC(),
	}
}

// Broadcast queues an event for delivery to all subscribed clients. It
// never blocks: if the hub's queue is full the event is dropped with a
// warning. Safe to call from any goroutine, including before Run starts.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		h.logger.Warn("ws: failed to encode event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}

	select {
	case h.broadcast <- broadcastMsg{event: event, data: data}:
	default:
		h.logger.Warn("ws: broadcast queue full, dropping event",
			slog.String("event", event),
		)
	}
}

// Run starts the hub's main event loop. It should be called in a
// goroutine. It handles client registration, unregistration, and event
// fan-out. The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
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

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metrics.WebSocketClients.Dec()
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.wants(msg.event) {
					select {
					case c.send <- msg.data:
					default:
						// Client's send buffer is full; drop the message.
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and
// registers the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}

	h.register <- c
	c.sendHello()

	// Start read and write pumps in separate goroutines.
	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. It handles
// subscription management requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
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
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the
// client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ev := range msg.Events {
			c.subs[ev] = true
		}
	case "unsubscribe":
		for _, ev := range msg.Events {
			delete(c.subs, ev)
		}
	}
}

// sendHello pushes a small JSON envelope so clients can immediately
// mark the connection as healthy even when no events are flowing yet.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(envelope{
		Event: "hello",
		Payload: map[string]any{
			"connected":     true,
			"uptimeSeconds": uptime,
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

// wants reports whether the client should receive the given event. A
// client with no explicit subscriptions receives everything.
func (c *client) wants(event string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	return c.subs[event]
}

// writePump pumps messages from the hub to the WebSocket connection as
// JSON text frames, with periodic ping frames for keepalive.
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
