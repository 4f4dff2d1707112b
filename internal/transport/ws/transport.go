package ws

import (
	"context"
	"fmt"
	"net"

	"github.com/gobwas/ws"

	"github.com/omochice/chatroom/internal/chat"
	"github.com/omochice/chatroom/internal/transport"
)

// Transport upgrades raw connections to WebSocket.
type Transport struct {
	MaxFrameSize int
}

// Name returns the transport name used in logs.
func (Transport) Name() string { return "ws" }

// Handshake performs the HTTP upgrade on conn within the ctx deadline.
func (t Transport) Handshake(ctx context.Context, conn net.Conn) (chat.Conn, error) {
	stop := transport.BindDeadline(ctx, conn.SetDeadline)
	defer stop()

	if _, err := ws.Upgrade(conn); err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", transport.ContextError(ctx, err))
	}
	return NewServerConn(conn, t.MaxFrameSize), nil
}
