// Package tcp provides the framed TCP transport of the chat server.
package tcp

import (
	"bufio"
	"context"
	"net"
	"sync"

	"github.com/omochice/chatroom/internal/transport"
	"github.com/omochice/chatroom/pkg/protocol"
)

// Conn adapts net.Conn to chat.Conn interface.
// Each Read returns exactly one frame; each Write sends exactly one frame.
type Conn struct {
	conn         net.Conn
	reader       *bufio.Reader
	maxFrameSize int

	writeMu sync.Mutex
}

// NewConn wraps a net.Conn. A maxFrameSize <= 0 selects
// protocol.DefaultMaxFrameSize.
func NewConn(conn net.Conn, maxFrameSize int) *Conn {
	if maxFrameSize <= 0 {
		maxFrameSize = protocol.DefaultMaxFrameSize
	}
	return &Conn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		maxFrameSize: maxFrameSize,
	}
}

// Read implements chat.Conn.
// It blocks until a whole frame has arrived, ctx is done or the connection
// fails. Read must not be called concurrently.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := transport.BindDeadline(ctx, c.conn.SetReadDeadline)
	defer stop()

	data, err := protocol.ReadFrame(c.reader, c.maxFrameSize)
	if err != nil {
		return nil, transport.ContextError(ctx, err)
	}
	return data, nil
}

// Write implements chat.Conn.
// Concurrent writes are serialized, so frames never interleave.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := transport.BindDeadline(ctx, c.conn.SetWriteDeadline)
	defer stop()

	if err := protocol.WriteFrame(c.conn, data); err != nil {
		return transport.ContextError(ctx, err)
	}
	return nil
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
