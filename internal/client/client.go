// Package client implements the TouchFish chat client: one persistent
// connection carrying chat lines and file transfer frames on the same
// line stream.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/omochice/touchfish-chat/internal/chat"
	"github.com/omochice/touchfish-chat/internal/transfer"
	"github.com/omochice/touchfish-chat/internal/transport/tcp"
	"github.com/omochice/touchfish-chat/internal/transport/ws"
	"github.com/omochice/touchfish-chat/pkg/protocol"
)

// Transport selects how the client reaches the server.
type Transport string

const (
	TransportTCP       Transport = "tcp"
	TransportWebSocket Transport = "ws"
)

const eventQueueSize = 256

// DialFunc opens a connection to the server.
type DialFunc func(ctx context.Context) (chat.Conn, error)

// Options configures a Client.
type Options struct {
	// Address is "host:port" for tcp or a ws:// URL for ws.
	Address   string
	Transport Transport
	Username  string

	ChunkSize int
	Pacing    time.Duration

	// AutoAccept accepts every file offer as soon as it arrives.
	AutoAccept bool
	// Saver receives completed files. Nil leaves saving to the event consumer.
	Saver transfer.Saver

	// Dial overrides the transport dialer.
	Dial   DialFunc
	Logger *slog.Logger
}

// Client is a chat client. Events must be drained by the caller; the read
// side blocks while the event queue is full.
type Client struct {
	opts   Options
	logger *slog.Logger

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
	emitMu    sync.RWMutex
	eventsOff bool

	mu      sync.Mutex
	session *session

	wg sync.WaitGroup
}

// session is the state of one connection. Transfer state never outlives it.
type session struct {
	conn     chat.Conn
	writer   *chat.Writer
	sender   *transfer.Sender
	receiver *transfer.Receiver
	local    bool
	writeErr error
	done     chan struct{}
}

// New creates a Client. It does not connect.
func New(opts Options) *Client {
	if opts.Transport == "" {
		opts.Transport = TransportTCP
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		opts:   opts,
		logger: opts.Logger.With("component", "client"),
		events: make(chan Event, eventQueueSize),
		closed: make(chan struct{}),
	}
}

// Events returns the event stream. It is closed by Close.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Username returns the name outbound chat lines are signed with.
func (c *Client) Username() string {
	return c.opts.Username
}

// Connect establishes a connection to the server and starts reading.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if c.IsConnected() {
		return ErrAlreadyConnected
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return &ConnectionError{Op: "dial", Addr: c.opts.Address, Err: err}
	}

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	default:
	}
	if c.session != nil {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyConnected
	}

	s := &session{
		conn:   conn,
		writer: chat.NewWriter(conn),
		done:   make(chan struct{}),
	}
	s.sender = transfer.NewSender(frameWriter{c: c, s: s}, transfer.SenderOptions{
		ChunkSize: c.opts.ChunkSize,
		Pacing:    c.opts.Pacing,
		Logger:    c.logger,
	})
	s.receiver = transfer.NewReceiver(&receiveListener{c: c, s: s}, c.logger)
	c.session = s
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("connected to server", "remote", conn.RemoteAddr(), "transport", c.opts.Transport)
	c.emit(Connected{Username: c.opts.Username, Remote: conn.RemoteAddr()})

	go c.readLoop(s)
	return nil
}

func (c *Client) dial(ctx context.Context) (chat.Conn, error) {
	if c.opts.Dial != nil {
		return c.opts.Dial(ctx)
	}
	switch c.opts.Transport {
	case TransportTCP:
		return tcp.Dial(ctx, c.opts.Address)
	case TransportWebSocket:
		return ws.Dial(ctx, c.opts.Address)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, c.opts.Transport)
	}
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Disconnect closes the current connection and waits until its read loop has
// finished. Any transfer in progress is abandoned.
func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.session
	if s != nil {
		s.local = true
	}
	c.mu.Unlock()
	if s == nil {
		return
	}

	s.conn.Close()
	<-s.done
}

// Close disconnects, waits for pending saves and closes the event stream.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.Disconnect()
		c.wg.Wait()

		c.emitMu.Lock()
		c.eventsOff = true
		close(c.events)
		c.emitMu.Unlock()
	})
}

// SendMessage sends one chat line signed with the username.
func (c *Client) SendMessage(ctx context.Context, message string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	line := protocol.FormatChat(c.opts.Username, message) + "\n"
	if err := c.write(ctx, s, []byte(line)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendFile streams the file at path to the server. It blocks until the
// transfer completes and rejects a second concurrent send with
// transfer.ErrSendInProgress.
func (c *Client) SendFile(ctx context.Context, path string) (transfer.Sent, error) {
	s, err := c.current()
	if err != nil {
		return transfer.Sent{}, err
	}

	sent, err := s.sender.Send(ctx, path, func(progress transfer.Sent, percent float64) {
		c.emit(FileProgress{Direction: Outbound, ID: progress.ID, Name: progress.Name, Percent: percent})
	})
	if err != nil {
		return sent, err
	}
	c.emit(FileSent{Sent: sent})
	return sent, nil
}

// AcceptFile accepts the pending file offer. Data that arrived before the
// decision is kept; if the transfer has already finished, FileReceived is
// emitted before AcceptFile returns.
func (c *Client) AcceptFile() error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.receiver.Accept()
}

// RejectFile rejects the pending or in-flight inbound transfer. Nothing is
// sent to the server; the remaining frames are discarded.
func (c *Client) RejectFile() error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.receiver.Reject()
}

// PendingOffer returns the offer awaiting a decision or being received.
func (c *Client) PendingOffer() (transfer.Offer, bool) {
	s, err := c.current()
	if err != nil {
		return transfer.Offer{}, false
	}
	return s.receiver.Pending()
}

// write sends data through the session's writer. A failed socket write
// tears the connection down; the read loop then reports it.
func (c *Client) write(ctx context.Context, s *session, data []byte) error {
	err := s.writer.Write(ctx, data)
	var writeErr *chat.WriteError
	if !errors.As(err, &writeErr) {
		return err
	}

	c.mu.Lock()
	first := s.writeErr == nil
	if first {
		s.writeErr = writeErr.Err
	}
	c.mu.Unlock()
	if first {
		c.logger.Warn("failed to write to server, closing connection", "err", writeErr.Err)
		s.conn.Close()
	}
	return &ConnectionError{Op: "write", Addr: writeErr.Addr, Err: writeErr.Err}
}

func (c *Client) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNotConnected
	}
	return c.session, nil
}

func (c *Client) readLoop(s *session) {
	defer c.wg.Done()

	dec := protocol.NewDecoder(c.logger)
	var readErr error
	for {
		data, err := s.conn.Read(context.Background())
		if err != nil {
			readErr = err
			break
		}
		for rec := range dec.Feed(data) {
			c.dispatch(s, rec)
		}
	}

	c.mu.Lock()
	local := s.local
	writeErr := s.writeErr
	c.session = nil
	c.mu.Unlock()

	s.receiver.Reset()
	// The conn goes first so a write blocked on a dead peer returns.
	s.conn.Close()
	s.writer.Close()

	var cause error
	switch {
	case local:
		c.logger.Info("disconnected from server")
	case writeErr != nil:
		cause = &ConnectionError{Op: "write", Addr: s.conn.RemoteAddr(), Err: writeErr}
	default:
		if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, net.ErrClosed) {
			c.logger.Warn("connection lost", "err", readErr)
		} else {
			c.logger.Info("server closed the connection")
		}
		cause = &ConnectionError{Op: "read", Addr: s.conn.RemoteAddr(), Err: readErr}
	}
	c.emit(Disconnected{Err: cause})
	close(s.done)
}

func (c *Client) dispatch(s *session, rec protocol.Record) {
	switch rec.Kind {
	case protocol.RecordFrame:
		s.receiver.HandleFrame(rec.Frame)
	case protocol.RecordChat:
		if rec.Line == "" {
			return
		}
		kind, text := protocol.ClassifyChat(rec.Line)
		c.emit(ChatReceived{Kind: kind, Text: text, Line: rec.Line})
	}
}

func (c *Client) emit(e Event) {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()
	if c.eventsOff {
		return
	}
	select {
	case c.events <- e:
	case <-c.closed:
	}
}

// frameWriter encodes control frames onto the session's write funnel.
type frameWriter struct {
	c *Client
	s *session
}

func (f frameWriter) WriteFrame(ctx context.Context, frame protocol.Frame) error {
	data, err := protocol.EncodeFrame(frame)
	if err != nil {
		return err
	}
	return f.c.write(ctx, f.s, data)
}

// receiveListener bridges receiver callbacks to client events.
type receiveListener struct {
	c *Client
	s *session
}

func (l *receiveListener) FileOffered(offer transfer.Offer) {
	auto := false
	if l.c.opts.AutoAccept {
		if err := l.s.receiver.Accept(); err == nil {
			auto = true
		}
	}
	l.c.emit(FileOffered{Offer: offer, AutoAccepted: auto})
}

func (l *receiveListener) FileProgress(offer transfer.Offer, percent float64) {
	l.c.emit(FileProgress{Direction: Inbound, ID: offer.ID, Name: offer.Name, Percent: percent})
}

// FileReceived hands the file to the Saver on its own goroutine so the read
// loop keeps draining.
func (l *receiveListener) FileReceived(file transfer.File) {
	l.c.emit(FileReceived{File: file})
	if l.c.opts.Saver == nil {
		return
	}

	l.c.wg.Add(1)
	go func() {
		defer l.c.wg.Done()
		path, err := l.c.opts.Saver.Save(context.Background(), file)
		if err != nil {
			l.c.logger.Warn("failed to save received file", "name", file.Name, "err", err)
			l.c.emit(FileError{Err: err})
			return
		}
		l.c.logger.Info("received file saved", "name", file.Name, "path", path)
		l.c.emit(FileSaved{ID: file.ID, Name: file.Name, Path: path})
	}()
}
