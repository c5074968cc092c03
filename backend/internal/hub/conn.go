// Package hub tracks live client WebSocket connections
package hub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voice-assistant/backend/internal/protocol"
)

const defaultWriteTimeout = 10 * time.Second

// ErrClosed is returned when writing to a closed connection
var ErrClosed = errors.New("connection closed")

// Conn serialises writes to one client socket. gorilla/websocket supports a
// single concurrent writer, and the orchestrator and session both send.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewConn wraps an upgraded socket
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, writeTimeout: defaultWriteTimeout}
}

// Send encodes and writes one message
func (c *Conn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	return c.SendRaw(data)
}

// SendRaw writes an already encoded text frame
func (c *Conn) SendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads the next frame. Only the owning session reads.
func (c *Conn) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

// Close sends a close frame and closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
