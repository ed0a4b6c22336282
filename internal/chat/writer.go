package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("writer closed")

// WriteError is a failed write to the underlying Conn. The Writer returns
// the same WriteError for every later write.
type WriteError struct {
	Addr string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write to %s: %v", e.Addr, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Writer funnels every write to a Conn through one goroutine so that chat
// lines and file frames are never interleaved mid-record.
type Writer struct {
	conn      Conn
	reqs      chan writeRequest
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type writeRequest struct {
	ctx    context.Context
	data   []byte
	result chan error
}

// NewWriter starts the write loop for conn.
func NewWriter(conn Conn) *Writer {
	w := &Writer{
		conn: conn,
		reqs: make(chan writeRequest),
		done: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues data and blocks until it has been written or has failed.
// Once a write fails, every later write returns the same error.
func (w *Writer) Write(ctx context.Context, data []byte) error {
	req := writeRequest{ctx: ctx, data: data, result: make(chan error, 1)}
	select {
	case w.reqs <- req:
	case <-w.done:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.result
}

// Close stops the write loop. It does not close the underlying Conn, and it
// waits for a write in progress, so close the Conn first when the peer may
// have stopped reading.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()

	var failed error
	for {
		select {
		case <-w.done:
			return
		case req := <-w.reqs:
			if failed != nil {
				req.result <- failed
				continue
			}
			if err := req.ctx.Err(); err != nil {
				req.result <- err
				continue
			}
			if err := w.conn.Write(req.ctx, req.data); err != nil {
				failed = &WriteError{Addr: w.conn.RemoteAddr(), Err: err}
				req.result <- failed
				continue
			}
			req.result <- nil
		}
	}
}
