package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("not connected to server")
	// ErrAlreadyConnected is returned by Connect while a connection is open.
	ErrAlreadyConnected = errors.New("already connected to server")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client closed")
	// ErrUnknownTransport is returned for a transport other than tcp or ws.
	ErrUnknownTransport = errors.New("unknown transport")
)

// ConnectionError reports a failure of the connection itself: dialing,
// reading or writing. It is never fatal to the process.
type ConnectionError struct {
	Op   string // "dial", "read", "write"
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
