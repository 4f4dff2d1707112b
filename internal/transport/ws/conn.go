// Package ws provides the WebSocket transport of the chat server.
//
// Every binary or text message is one chat frame. Ping, pong and close
// control frames are answered transparently.
package ws

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/chatroom/internal/transport"
	"github.com/omochice/chatroom/pkg/protocol"
)

// closeTimeout bounds the close frame written by Close.
const closeTimeout = time.Second

// Conn adapts a WebSocket connection to chat.Conn interface.
type Conn struct {
	conn         net.Conn
	state        ws.State
	reader       *wsutil.Reader
	control      wsutil.FrameHandlerFunc
	maxFrameSize int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewServerConn wraps a connection that completed the server side of the
// WebSocket handshake.
func NewServerConn(conn net.Conn, maxFrameSize int) *Conn {
	return newConn(conn, conn, ws.StateServerSide, maxFrameSize)
}

// NewClientConn wraps a dialed connection. br is the reader returned by
// ws.Dial; it may be nil. Frames it buffered are read first and it is
// returned to the gobwas pool once drained.
func NewClientConn(conn net.Conn, br *bufio.Reader, maxFrameSize int) *Conn {
	var src io.Reader = conn
	if br != nil {
		src = &handshakeReader{br: br, conn: conn}
	}
	return newConn(conn, src, ws.StateClientSide, maxFrameSize)
}

func newConn(conn net.Conn, src io.Reader, state ws.State, maxFrameSize int) *Conn {
	if maxFrameSize <= 0 {
		maxFrameSize = protocol.DefaultMaxFrameSize
	}
	c := &Conn{
		conn:         conn,
		state:        state,
		maxFrameSize: maxFrameSize,
	}
	c.control = wsutil.ControlFrameHandler(lockedWriter{c}, state)
	c.reader = &wsutil.Reader{
		Source:         src,
		State:          state,
		OnIntermediate: c.control,
	}
	return c
}

// Read implements chat.Conn.
// It returns the next data message. A close frame from the peer is reported
// as io.EOF. Read must not be called concurrently.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := transport.BindDeadline(ctx, c.conn.SetReadDeadline)
	defer stop()

	data, err := c.readMessage()
	if err != nil {
		return nil, transport.ContextError(ctx, err)
	}
	return data, nil
}

func (c *Conn) readMessage() ([]byte, error) {
	for {
		hdr, err := c.reader.NextFrame()
		if err != nil {
			return nil, err
		}

		if hdr.OpCode.IsControl() {
			if err := c.control(hdr, c.reader); err != nil {
				var closed wsutil.ClosedError
				if errors.As(err, &closed) {
					return nil, io.EOF
				}
				return nil, err
			}
			continue
		}

		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := c.reader.Discard(); err != nil {
				return nil, err
			}
			continue
		}

		if hdr.Length > int64(c.maxFrameSize) {
			return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", protocol.ErrFrameTooLarge, hdr.Length, c.maxFrameSize)
		}

		// Fragmented messages only reveal their size while reading.
		data, err := io.ReadAll(io.LimitReader(c.reader, int64(c.maxFrameSize)+1))
		if err != nil {
			return nil, err
		}
		if len(data) > c.maxFrameSize {
			return nil, fmt.Errorf("%w: fragmented message exceeds limit of %d", protocol.ErrFrameTooLarge, c.maxFrameSize)
		}
		return data, nil
	}
}

// Write implements chat.Conn.
// Writes a binary message to the WebSocket connection.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := transport.BindDeadline(ctx, c.conn.SetWriteDeadline)
	defer stop()

	if err := wsutil.WriteMessage(c.conn, c.state, ws.OpBinary, data); err != nil {
		return transport.ContextError(ctx, err)
	}
	return nil
}

// Close implements chat.Conn.
// It sends a normal closure frame when no write is in flight and closes the
// underlying connection.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if c.writeMu.TryLock() {
			_ = c.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
			body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
			_ = wsutil.WriteMessage(c.conn, c.state, ws.OpClose, body)
			c.writeMu.Unlock()
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// lockedWriter lets control frame replies share the write lock with Write.
type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	return w.c.conn.Write(p)
}

// handshakeReader serves bytes left buffered by the handshake, then reads
// from conn directly.
type handshakeReader struct {
	br   *bufio.Reader
	conn net.Conn
}

func (r *handshakeReader) Read(p []byte) (int, error) {
	if r.br != nil {
		if r.br.Buffered() > 0 {
			return r.br.Read(p)
		}
		ws.PutReader(r.br)
		r.br = nil
	}
	return r.conn.Read(p)
}
