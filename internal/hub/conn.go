package hub

import (
	"context"

	"github.com/coder/websocket"
)

// Conn is one persistent, message-oriented client connection.
// Write and Close must be safe to call concurrently with Read.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type wsConn struct {
	c *websocket.Conn
}

// NewWebsocketConn adapts an accepted websocket to Conn.
func NewWebsocketConn(c *websocket.Conn) Conn {
	return wsConn{c: c}
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w wsConn) Close(code websocket.StatusCode, reason string) error {
	return w.c.Close(code, reason)
}
