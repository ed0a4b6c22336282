// Package chat holds the transport-agnostic connection plumbing shared by the
// chat client and its tests.
package chat

import "context"

// Conn abstracts a bidirectional byte stream for both TCP and WebSocket.
// This interface isolates transport details from the line protocol.
type Conn interface {
	// Read returns the next chunk of bytes as delivered by the transport.
	// Chunk boundaries carry no meaning; callers reassemble lines themselves.
	// Returns io.EOF when the connection is closed by the peer.
	Read(ctx context.Context) ([]byte, error)

	// Write sends data to the peer. Callers must not interleave writes.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
