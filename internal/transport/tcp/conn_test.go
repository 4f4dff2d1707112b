package tcp_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/chatroom/internal/chat"
	"github.com/omochice/chatroom/internal/transport/tcp"
	"github.com/omochice/chatroom/pkg/protocol"
)

func TestConn_ImplementsInterface(t *testing.T) {
	var _ chat.Conn = (*tcp.Conn)(nil)
}

func TestConn_Read(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := tcp.NewConn(client, 0)

	go func() {
		_ = protocol.WriteFrame(server, []byte("test message"))
		_ = protocol.WriteFrame(server, []byte("second"))
		server.Close()
	}()

	data, err := conn.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test message", string(data))

	data, err = conn.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	_, err = conn.Read(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestConn_Read_TooLarge(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := tcp.NewConn(client, 16)

	go func() {
		_ = protocol.WriteFrame(server, make([]byte, 1024))
	}()

	_, err := conn.Read(context.Background())
	require.ErrorIs(t, err, protocol.ErrFrameTooLarge)
}

func TestConn_Read_ContextCancel(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := tcp.NewConn(client, 0)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := conn.Read(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConn_Read_Deadline(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := tcp.NewConn(client, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := conn.Read(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConn_Write(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := tcp.NewConn(client, 0)

	go func() {
		assert.NoError(t, conn.Write(context.Background(), []byte("hello")))
	}()

	data, err := protocol.ReadFrame(bufio.NewReader(server), 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestConn_Write_Concurrent(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := tcp.NewConn(client, 0)

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, conn.Write(context.Background(), []byte("frame-payload")))
		}()
	}

	r := bufio.NewReader(server)
	for i := 0; i < writers; i++ {
		data, err := protocol.ReadFrame(r, 0)
		require.NoError(t, err)
		assert.Equal(t, "frame-payload", string(data))
	}
	wg.Wait()
}

// A peer that never reads must not stall the writer past its deadline.
func TestConn_Write_StalledPeer(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := tcp.NewConn(client, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := conn.Write(ctx, []byte("nobody listens"))

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConn_Close(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	conn := tcp.NewConn(client, 0)

	require.NoError(t, conn.Close())

	_, err := client.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestConn_RemoteAddr(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := tcp.NewConn(client, 0)

	assert.NotEmpty(t, conn.RemoteAddr())
}

func TestTransport_Handshake(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	tr := tcp.Transport{MaxFrameSize: 8}
	assert.Equal(t, "tcp", tr.Name())

	conn, err := tr.Handshake(context.Background(), client)
	require.NoError(t, err)

	go func() {
		_ = protocol.WriteFrame(server, []byte("way too long for eight bytes"))
	}()

	_, err = conn.Read(context.Background())
	require.ErrorIs(t, err, protocol.ErrFrameTooLarge)
}
