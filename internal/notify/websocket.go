package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// WSConn adapts an HTTP upgrade request into a Conn. The handshake runs in
// Accept so a failed upgrade never reaches the registry.
type WSConn struct {
	id       string
	w        http.ResponseWriter
	r        *http.Request
	opts     *websocket.AcceptOptions
	maxBytes int64

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSConn(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions, maxBytes int64) *WSConn {
	return &WSConn{
		id:       uuid.New().String(),
		w:        w,
		r:        r,
		opts:     opts,
		maxBytes: maxBytes,
	}
}

func (c *WSConn) ID() string { return c.id }

// Accept performs the upgrade once; later calls are no-ops.
func (c *WSConn) Accept(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	conn, err := websocket.Accept(c.w, c.r, c.opts)
	if err != nil {
		return fmt.Errorf("websocket accept: %w", err)
	}
	if c.maxBytes > 0 {
		conn.SetReadLimit(c.maxBytes)
	}
	c.conn = conn
	return nil
}

func (c *WSConn) ws() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

func (c *WSConn) Send(ctx context.Context, msg Message) error {
	conn, err := c.ws()
	if err != nil {
		return err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", msg.Type, err)
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// Read blocks for the next frame. Frames that fail to decode are returned as
// ErrInvalidMessage so the caller can answer and keep reading.
func (c *WSConn) Read(ctx context.Context) (Message, error) {
	conn, err := c.ws()
	if err != nil {
		return Message{}, err
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		return Message{}, err
	}
	return DecodeMessage(data)
}

func (c *WSConn) Close() error {
	conn, err := c.ws()
	if err != nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

// IsNormalClosure reports whether err is the peer closing cleanly.
func IsNormalClosure(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
