// Package live pushes price updates to websocket clients.
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	domrepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	xlogger "github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
)

// Message is the frame sent to clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans ticks out to every connected client. A client whose buffer is
// full is disconnected instead of slowing the broadcaster.
type Hub struct {
	logger       *xlogger.Logger
	upgrader     websocket.Upgrader
	buffer       int
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

var _ domrepo.Broadcaster = (*Hub)(nil)

func NewHub(logger *xlogger.Logger, buffer int, writeTimeout time.Duration) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		buffer:       buffer,
		writeTimeout: writeTimeout,
		clients:      make(map[*client]struct{}),
	}
}

func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.ServeWS)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and blocks until the client goes away.
func (h *Hub) ServeWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", xlogger.Error(err))
		return nil
	}
	cl := &client{conn: conn, send: make(chan []byte, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	h.clients[cl] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket connected", xlogger.Int("clients", n))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(cl)
	}()
	h.readPump(cl)
	h.remove(cl)
	<-done
	return nil
}

func (h *Hub) readPump(cl *client) {
	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		if string(msg) == "ping" {
			h.enqueue(cl, []byte("pong"))
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue never blocks; a full buffer drops the client.
func (h *Hub) enqueue(cl *client, msg []byte) bool {
	h.mu.RLock()
	_, ok := h.clients[cl]
	if ok {
		select {
		case cl.send <- msg:
		default:
			ok = false
		}
	}
	h.mu.RUnlock()
	if !ok {
		h.remove(cl)
	}
	return ok
}

// Broadcast sends a price_update frame to every client.
func (h *Hub) Broadcast(t *models.Tick) {
	b, err := json.Marshal(Message{Type: "price_update", Data: t})
	if err != nil {
		h.logger.Error("encode price update", xlogger.Error(err))
		return
	}

	var slow []*client
	h.mu.RLock()
	for cl := range h.clients {
		select {
		case cl.send <- b:
		default:
			slow = append(slow, cl)
		}
	}
	h.mu.RUnlock()

	for _, cl := range slow {
		h.remove(cl)
		h.logger.Warn("dropped slow websocket client")
	}
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		cl.close()
	}
	h.mu.Unlock()
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for cl := range h.clients {
		delete(h.clients, cl)
		cl.close()
	}
	h.mu.Unlock()
}
