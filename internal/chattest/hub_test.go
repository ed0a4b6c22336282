package chattest_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/touchfish-chat/internal/chattest"
)

type stubConn struct {
	closed bool
}

func (c *stubConn) Read(context.Context) ([]byte, error) { return nil, io.EOF }
func (c *stubConn) Write(context.Context, []byte) error { return nil }
func (c *stubConn) Close() error { c.closed = true; return nil }
func (c *stubConn) RemoteAddr() string { return "stub" }

func TestHub_BroadcastEvictsFullPeer(t *testing.T) {
	h := chattest.NewHub(slog.New(slog.DiscardHandler))

	stalled := &chattest.Peer{Conn: &stubConn{}, Outgoing: make(chan []byte, 1)}
	stalled.Outgoing <- []byte("backlog\n")
	healthy := &chattest.Peer{Conn: &stubConn{}, Outgoing: make(chan []byte, 4)}
	h.Register(stalled)
	h.Register(healthy)

	done := make(chan struct{})
	go func() {
		h.Broadcast([]byte("hello\n"), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full queue")
	}

	assert.Equal(t, []byte("hello\n"), <-healthy.Outgoing)
	assert.Equal(t, 1, h.ClientCount())
	assert.True(t, stalled.Conn.(*stubConn).closed)

	// The backlog is still delivered before the queue reports closed.
	assert.Equal(t, []byte("backlog\n"), <-stalled.Outgoing)
	_, ok := <-stalled.Outgoing
	assert.False(t, ok)

	// Unregistering an evicted peer must not close its queue twice.
	require.NotPanics(t, func() { h.Unregister(stalled) })
}

func TestHub_BroadcastSkipsAuthor(t *testing.T) {
	h := chattest.NewHub(slog.New(slog.DiscardHandler))
	author := &chattest.Peer{Conn: &stubConn{}, Outgoing: make(chan []byte, 1)}
	other := &chattest.Peer{Conn: &stubConn{}, Outgoing: make(chan []byte, 1)}
	h.Register(author)
	h.Register(other)

	h.Broadcast([]byte("frame\n"), author)

	assert.Len(t, author.Outgoing, 0)
	assert.Equal(t, []byte("frame\n"), <-other.Outgoing)
	assert.Equal(t, 2, h.ClientCount())
}
