package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	clientQueueLen = 32
)

// Hub is a Sink that broadcasts events to every page connected over websocket
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]*hubClient
	closed  bool

	onConnect    func()
	onDisconnect func()
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. allowedOrigin restricts websocket upgrades to that
// origin; empty allows any origin.
func NewHub(allowedOrigin string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Hub{
		logger:  logger,
		clients: make(map[string]*hubClient),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
	return h
}

// SetPresenceHooks registers callbacks run when a page connects or leaves.
// Set them before serving.
func (h *Hub) SetPresenceHooks(onConnect, onDisconnect func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = onConnect
	h.onDisconnect = onDisconnect
}

// ServeHTTP upgrades the connection and registers the page
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &hubClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientQueueLen),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	onConnect := h.onConnect
	h.mu.Unlock()

	h.logger.Debug("page connected", zap.String("client", c.id))
	if onConnect != nil {
		onConnect()
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards inbound frames and unregisters the client on disconnect
func (h *Hub) readPump(c *hubClient) {
	defer h.remove(c.id)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("write to page failed", zap.String("client", c.id), zap.Error(err))
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(c.send)
	}
	onDisconnect := h.onDisconnect
	h.mu.Unlock()

	if !ok {
		return
	}
	h.logger.Debug("page disconnected", zap.String("client", id))
	if onDisconnect != nil {
		onDisconnect()
	}
}

// Deliver broadcasts an event to every connected page.
// Slow pages whose queue is full miss the event.
func (h *Hub) Deliver(ctx context.Context, ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("page queue is full, dropping event", zap.String("client", id), zap.String("type", ev.Type))
		}
	}
	return nil
}

// Clients returns the number of connected pages
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every page
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}
