package chattest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/touchfish-chat/internal/chat"
	"github.com/omochice/touchfish-chat/internal/transport/tcp"
	"github.com/omochice/touchfish-chat/pkg/protocol"
)

const outgoingQueueSize = 64

// Relay accepts chat clients on a loopback port. Every client is greeted with
// the welcome hint. Chat lines are echoed to all clients including the author;
// control frames go to everyone but the author.
type Relay struct {
	hub      *Hub
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger

	quit chan struct{}
	wg   sync.WaitGroup

	mu    sync.Mutex
	conns map[chat.Conn]struct{}
}

// NewTCP starts a relay speaking raw TCP.
func NewTCP(logger *slog.Logger) (*Relay, error) {
	r, err := newRelay(logger)
	if err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			conn, err := r.listener.Accept()
			if err != nil {
				select {
				case <-r.quit:
					return
				default:
					r.logger.Warn("failed to accept connection", "err", err)
					return
				}
			}
			r.serve(tcp.NewConn(conn))
		}
	}()
	return r, nil
}

// NewWebSocket starts a relay speaking WebSocket text messages on "/".
func NewWebSocket(logger *slog.Logger) (*Relay, error) {
	r, err := newRelay(logger)
	if err != nil {
		return nil, err
	}

	r.server = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(req, w)
		if err != nil {
			r.logger.Warn("failed to upgrade connection", "err", err)
			return
		}
		r.serve(&serverConn{conn: conn})
	})}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.server.Serve(r.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Warn("relay server stopped", "err", err)
		}
	}()
	return r, nil
}

func newRelay(logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start relay: %w", err)
	}
	return &Relay{
		hub:      NewHub(logger),
		listener: listener,
		logger:   logger,
		quit:     make(chan struct{}),
		conns:    make(map[chat.Conn]struct{}),
	}, nil
}

// Addr returns the listening address.
func (r *Relay) Addr() string {
	return r.listener.Addr().String()
}

// URL returns the WebSocket URL of the relay.
func (r *Relay) URL() string {
	return "ws://" + r.Addr() + "/"
}

// ClientCount returns the number of connected clients.
func (r *Relay) ClientCount() int {
	return r.hub.ClientCount()
}

// Broadcast sends line to every client, as a server notice would be.
func (r *Relay) Broadcast(line string) {
	r.hub.Broadcast([]byte(line+"\n"), nil)
}

// WaitForClients blocks until at least n clients are connected.
func (r *Relay) WaitForClients(ctx context.Context, n int) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for r.hub.ClientCount() < n {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d clients: %w", n, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting, disconnects every client and waits for the relay's
// goroutines to finish.
func (r *Relay) Close() {
	close(r.quit)
	if r.server != nil {
		r.server.Close()
	} else {
		r.listener.Close()
	}

	r.mu.Lock()
	for conn := range r.conns {
		conn.Close()
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Relay) serve(conn chat.Conn) {
	r.mu.Lock()
	select {
	case <-r.quit:
		r.mu.Unlock()
		conn.Close()
		return
	default:
	}
	r.conns[conn] = struct{}{}
	r.mu.Unlock()

	peer := &Peer{Conn: conn, Outgoing: make(chan []byte, outgoingQueueSize)}
	peer.Outgoing <- []byte(protocol.WelcomeHint + "\n")
	r.hub.Register(peer)

	r.wg.Add(2)
	go r.readLoop(peer)
	go r.writeLoop(peer)
}

func (r *Relay) readLoop(p *Peer) {
	defer r.wg.Done()
	defer func() {
		r.hub.Unregister(p)
		r.mu.Lock()
		delete(r.conns, p.Conn)
		r.mu.Unlock()
		p.Conn.Close()
	}()

	dec := protocol.NewDecoder(r.logger)
	for {
		data, err := p.Conn.Read(context.Background())
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				r.logger.Debug("relay read failed", "remote", p.Conn.RemoteAddr(), "err", err)
			}
			return
		}
		for rec := range dec.Feed(data) {
			line := []byte(rec.Line + "\n")
			if rec.Kind == protocol.RecordFrame {
				r.hub.Broadcast(line, p)
			} else {
				r.hub.Broadcast(line, nil)
			}
		}
	}
}

// writeLoop keeps draining after a failed write so broadcasters never block
// on a dead peer.
func (r *Relay) writeLoop(p *Peer) {
	defer r.wg.Done()
	var failed bool
	for data := range p.Outgoing {
		if failed {
			continue
		}
		if err := p.Conn.Write(context.Background(), data); err != nil {
			r.logger.Debug("relay write failed", "remote", p.Conn.RemoteAddr(), "err", err)
			failed = true
		}
	}
}

// serverConn is the server side of a gobwas/ws connection.
type serverConn struct {
	conn net.Conn
	wmu  sync.Mutex
}

func (c *serverConn) Read(ctx context.Context) ([]byte, error) {
	// Control replies written during the read share the write lock.
	rw := struct {
		io.Reader
		io.Writer
	}{c.conn, writerFunc(c.lockedWrite)}
	data, _, err := wsutil.ReadClientData(rw)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (c *serverConn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsutil.WriteServerText(c.conn, data)
}

func (c *serverConn) lockedWrite(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.Write(p)
}

func (c *serverConn) Close() error {
	return c.conn.Close()
}

func (c *serverConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}
