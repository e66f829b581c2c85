// Package hub tracks the live WebSocket connections from the platform.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned by Send after Close.
var ErrConnectionClosed = errors.New("connection closed")

// Connection represents a single WebSocket connection. Writes are
// serialized so the read loop and the keepalive pump can share the socket.
type Connection struct {
	id           string
	path         string
	conn         *websocket.Conn
	writeTimeout time.Duration
	openedAt     time.Time

	mu     sync.Mutex
	closed bool
}

// Hub manages all WebSocket connections.
type Hub struct {
	connections map[string]*Connection
	mu          sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{connections: make(map[string]*Connection)}
}

// NewConnection wraps ws with a fresh id. The connection is not tracked
// until Register is called.
func (h *Hub) NewConnection(ws *websocket.Conn, path string, writeTimeout time.Duration) *Connection {
	return &Connection{
		id:           uuid.New().String(),
		path:         path,
		conn:         ws,
		writeTimeout: writeTimeout,
		openedAt:     time.Now(),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.id] = conn
	h.mu.Unlock()
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	delete(h.connections, conn.id)
	h.mu.Unlock()
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// CloseAll sends a going-away close frame to every connection. Their read
// loops then exit and clean up.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.CloseWithCode(websocket.CloseGoingAway, "server shutting down")
	}
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

// Path returns the request path the connection was accepted on.
func (c *Connection) Path() string { return c.path }

// OpenedAt returns the time the connection was accepted.
func (c *Connection) OpenedAt() time.Time { return c.openedAt }

// Conn returns the underlying socket for the read loop.
func (c *Connection) Conn() *websocket.Conn { return c.conn }

// Send writes one text frame. The context deadline, if sooner than the
// configured write timeout, bounds the write.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	return c.write(ctx, websocket.TextMessage, data)
}

// Ping writes a keepalive ping.
func (c *Connection) Ping() error {
	return c.write(context.Background(), websocket.PingMessage, nil)
}

func (c *Connection) write(ctx context.Context, messageType int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// CloseWithCode sends a close frame and closes the socket. Safe to call
// more than once.
func (c *Connection) CloseWithCode(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	_ = c.conn.Close()
}

// Close closes the socket without a close frame.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
