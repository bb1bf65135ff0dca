// Package ws bridges the event bus to WebSocket clients so dashboards can
// follow fills, signals, and lifecycle events live.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openquant/botcore/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming frames; clients only ever send pings.
	maxMessageSize = 1024

	// sendBufferSize is the per-client outgoing buffer.
	sendBufferSize = 256
)

// eventChannel is the bus channel the bot mirrors its events onto.
const eventChannel = "events"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for the REST API is handled separately; the event stream is
		// open to any origin.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Config captures runtime metadata included in the greeting frame sent to
// clients on connect.
type Config struct {
	BotName   string
	Mode      string
	StartedAt time.Time
}

// Hub fans event-bus messages out to all connected WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	bus        domain.EventBus
	cfg        Config
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub reading from the given event bus.
func NewHub(bus domain.EventBus, cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws")),
	}
}

// Run subscribes to the event channel and drives client registration and
// broadcasting until the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.pump(ctx)

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
			h.logger.Info("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", h.clientCount()))

		case data := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Send buffer full; the message is dropped for this
					// client rather than blocking the hub.
					h.logger.Warn("dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pump subscribes to the event channel and forwards payloads into the
// broadcast loop.
func (h *Hub) pump(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, eventChannel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", eventChannel),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("event subscription closed")
				return
			}
			h.broadcast <- data
		}
	}
}

// HandleWS upgrades the request and registers the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.register <- c
	c.sendGreeting()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sendGreeting queues the initial status frame for a freshly connected
// client.
func (c *client) sendGreeting() {
	greeting, err := json.Marshal(map[string]any{
		"event":      "connected",
		"bot":        c.hub.cfg.BotName,
		"mode":       c.hub.cfg.Mode,
		"started_at": c.hub.cfg.StartedAt.Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- greeting:
	default:
	}
}

// readPump drains the connection so control frames are processed; any close
// or error unregisters the client.
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
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writePump writes queued messages and periodic pings to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
