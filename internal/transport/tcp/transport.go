package tcp

import (
	"context"
	"net"

	"github.com/omochice/chatroom/internal/chat"
)

// Transport frames raw TCP connections. It needs no handshake of its own.
type Transport struct {
	MaxFrameSize int
}

// Name returns the transport name used in logs.
func (Transport) Name() string { return "tcp" }

// Handshake wraps conn into a framed chat.Conn.
func (t Transport) Handshake(_ context.Context, conn net.Conn) (chat.Conn, error) {
	return NewConn(conn, t.MaxFrameSize), nil
}
