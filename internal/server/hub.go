package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/handsfree-vad/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	clientQueue    = 64
)

// Command is a control message sent by a WebSocket client
type Command struct {
	Type string `json:"type"` // calibrate, handsfree_on or handsfree_off
}

// message is the envelope written to WebSocket clients
type message struct {
	Type     string            `json:"type"` // snapshot, event or error
	Event    *session.Event    `json:"event,omitempty"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans engine events out to connected WebSocket clients. It implements
// session.Notifier; slow clients are disconnected instead of blocking the
// engine.
type Hub struct {
	engine   Engine
	logger   *slog.Logger
	upgrader websocket.Upgrader

	clients map[*client]struct{}
	dropped uint64
	mu      sync.Mutex
}

// NewHub creates an empty hub. The engine may be attached later with Attach.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Attach sets the engine used for snapshots and client commands
func (h *Hub) Attach(engine Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine = engine
}

// Notify broadcasts an engine event
func (h *Hub) Notify(ev session.Event) {
	data, err := json.Marshal(message{Type: "event", Event: &ev})
	if err != nil {
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			close(c.send)
			delete(h.clients, c)
			h.dropped++
		}
	}
}

// HubStats represents WebSocket statistics
type HubStats struct {
	Clients        int    `json:"clients"`
	DroppedClients uint64 `json:"dropped_clients"`
}

// Stats returns WebSocket statistics
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HubStats{Clients: len(h.clients), DroppedClients: h.dropped}
}

func (h *Hub) attached() Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueue)}
	engine := h.attached()

	// the snapshot goes first, before any broadcast can reach the client
	if engine != nil {
		snap := engine.Snapshot()
		if data, err := json.Marshal(message{Type: "snapshot", Snapshot: &snap}); err == nil {
			c.send <- data
		}
	}
	h.register(c)

	h.logger.Debug("WebSocket client connected", slog.String("remote_addr", r.RemoteAddr))

	go h.writePump(c)
	h.readPump(c, engine)

	h.logger.Debug("WebSocket client disconnected", slog.String("remote_addr", r.RemoteAddr))
}

func (h *Hub) readPump(c *client, engine Engine) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
			}
			return
		}

		if engine == nil {
			continue
		}
		if err := h.execute(engine, cmd); err != nil {
			h.reply(c, message{Type: "error", Error: err.Error()})
		}
	}
}

func (h *Hub) execute(engine Engine, cmd Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	switch cmd.Type {
	case "calibrate":
		return engine.StartCalibration(ctx)
	case "handsfree_on":
		return engine.StartHandsFree(ctx)
	case "handsfree_off":
		return engine.StopHandsFree(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
}

func (h *Hub) reply(c *client, msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) writePump(c *client) {
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
