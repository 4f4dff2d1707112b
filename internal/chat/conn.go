// Package chat provides the core chat domain logic shared by all transports:
// client sessions, the hub of active clients and broadcast dispatch.
package chat

import "context"

// Conn abstracts a framed, bidirectional connection for both TCP and WebSocket.
// This interface isolates transport details from chat logic.
type Conn interface {
	// Read blocks until one whole frame is available and returns its payload.
	// Returns io.EOF when the peer closed the stream between frames.
	Read(ctx context.Context) ([]byte, error)

	// Write sends payload as a single frame.
	// Concurrent calls never interleave their bytes.
	Write(ctx context.Context, payload []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
