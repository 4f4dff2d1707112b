package chat_test

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omochice/chatroom/internal/chat"
)

// mockConn is a mock implementation of chat.Conn for testing.
type mockConn struct {
	readCh     chan []byte
	readErr    error
	writtenMu  sync.Mutex
	written    [][]byte
	writeErr   error
	blockWrite bool
	remoteAddr string

	closeOnce sync.Once
	closed    chan struct{}
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan []byte, 10),
		remoteAddr: addr,
		closed:     make(chan struct{}),
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, net.ErrClosed
	case data, ok := <-m.readCh:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	if m.blockWrite {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			return net.ErrClosed
		}
	}
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	m.written = append(m.written, copied)
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *mockConn) GetWritten() []string {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	lines := make([]string, len(m.written))
	for i, w := range m.written {
		lines[i] = string(w)
	}
	return lines
}

// waitWritten waits until conn has received want frames and returns them.
func waitWritten(t *testing.T, conn *mockConn, want int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(conn.GetWritten()) >= want
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d frames", want)
	return conn.GetWritten()
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)
