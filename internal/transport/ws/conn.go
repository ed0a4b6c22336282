// Package ws provides the WebSocket transport for the chat client.
// Each text message carries a slice of the line stream; message boundaries
// have no meaning to the protocol.
package ws

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn adapts a client-side gobwas/ws connection to chat.Conn interface.
type Conn struct {
	conn net.Conn
	rw   io.ReadWriter
	wmu  sync.Mutex
}

// NewConn wraps an already upgraded client connection. br is the reader
// returned by the handshake and may be nil.
func NewConn(conn net.Conn, br *bufio.Reader) *Conn {
	if br != nil {
		conn = &bufferedConn{Conn: conn, r: io.MultiReader(br, conn)}
	}
	c := &Conn{conn: conn}
	// Control replies (pong, close) written by wsutil during reads share the
	// write lock with regular writes.
	c.rw = struct {
		io.Reader
		io.Writer
	}{conn, lockedWriter{c}}
	return c
}

// Dial performs the WebSocket handshake against url ("ws://host:port/path").
func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return NewConn(conn, br), nil
}

// Read implements chat.Conn.
// Reads the payload of the next text or binary message from the server.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	data, _, err := wsutil.ReadServerData(c.rw)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Write implements chat.Conn.
// Writes data as a single masked text message.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsutil.WriteClientText(c.conn, data)
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	c.wmu.Lock()
	_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	c.wmu.Unlock()
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	return w.c.conn.Write(p)
}

// bufferedConn drains bytes the handshake reader already pulled off the wire.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}
