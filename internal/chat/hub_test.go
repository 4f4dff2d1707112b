package chat_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/chatroom/internal/chat"
)

// runClient starts c.Run and returns a channel yielding its result.
func runClient(t *testing.T, c *chat.Client) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		errCh <- c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})
	return errCh
}

// joinClient creates a client on a mock connection, joins it and runs it.
func joinClient(t *testing.T, hub *chat.Hub, name string, opts ...chat.ClientOption) (*chat.Client, *mockConn) {
	t.Helper()
	conn := newMockConn("127.0.0.1:" + name)
	c := chat.NewClient(conn, name, hub, opts...)
	require.NoError(t, hub.Join(c))
	runClient(t, c)
	return c, conn
}

func TestHub_Register(t *testing.T) {
	hub := chat.NewHub()
	client := chat.NewClient(newMockConn("127.0.0.1:1234"), "testuser", hub)

	require.NoError(t, hub.Register(client))

	assert.Equal(t, 1, hub.ClientCount())
}

func TestHub_Register_MultipleClients(t *testing.T) {
	hub := chat.NewHub()

	for i := 0; i < 3; i++ {
		client := chat.NewClient(newMockConn("127.0.0.1:1234"), "user", hub)
		require.NoError(t, hub.Register(client))
	}

	assert.Equal(t, 3, hub.ClientCount())
}

func TestHub_Register_DuplicateID(t *testing.T) {
	hub := chat.NewHub()
	id := chat.NewID()

	first := chat.NewClient(newMockConn("a"), "alice", hub, chat.WithID(id))
	second := chat.NewClient(newMockConn("b"), "bob", hub, chat.WithID(id))

	require.NoError(t, hub.Register(first))
	err := hub.Register(second)

	require.ErrorIs(t, err, chat.ErrDuplicateID)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHub_Register_AfterShutdown(t *testing.T) {
	hub := chat.NewHub()
	hub.Shutdown()

	err := hub.Register(chat.NewClient(newMockConn("a"), "alice", hub))

	require.ErrorIs(t, err, chat.ErrHubClosed)
	assert.Zero(t, hub.ClientCount())
}

func TestHub_Unregister(t *testing.T) {
	hub := chat.NewHub()
	client := chat.NewClient(newMockConn("a"), "alice", hub)
	require.NoError(t, hub.Register(client))

	require.NoError(t, hub.Unregister(client))
	assert.Zero(t, hub.ClientCount())

	err := hub.Unregister(client)
	require.ErrorIs(t, err, chat.ErrNotFound)
}

func TestHub_Unregister_NeverRegistered(t *testing.T) {
	hub := chat.NewHub()
	require.NoError(t, hub.Register(chat.NewClient(newMockConn("a"), "alice", hub)))

	err := hub.Unregister(chat.NewClient(newMockConn("b"), "bob", hub))

	require.ErrorIs(t, err, chat.ErrNotFound)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHub_BroadcastExcept_SkipsSender(t *testing.T) {
	hub := chat.NewHub()
	alice, aliceConn := joinClient(t, hub, "alice")
	_, bobConn := joinClient(t, hub, "bob")
	_, carolConn := joinClient(t, hub, "carol")

	// Drain join announcements: alice sees bob and carol, bob sees carol.
	waitWritten(t, aliceConn, 2)
	waitWritten(t, bobConn, 1)

	n := hub.BroadcastExcept(alice.ID(), []byte("alice: hello"))
	assert.Equal(t, 2, n)

	bobLines := waitWritten(t, bobConn, 2)
	carolLines := waitWritten(t, carolConn, 1)
	assert.Equal(t, "alice: hello", bobLines[len(bobLines)-1])
	assert.Equal(t, []string{"alice: hello"}, carolLines)

	// The sender never receives its own line.
	time.Sleep(20 * time.Millisecond)
	assert.NotContains(t, aliceConn.GetWritten(), "alice: hello")
}

func TestHub_BroadcastExcept_SystemSenderReachesEveryone(t *testing.T) {
	hub := chat.NewHub()
	_, aliceConn := joinClient(t, hub, "alice")
	_, bobConn := joinClient(t, hub, "bob")
	waitWritten(t, aliceConn, 1)

	n := hub.BroadcastExcept(chat.SystemID, []byte("Server: maintenance"))

	assert.Equal(t, 2, n)
	assert.Contains(t, waitWritten(t, aliceConn, 2), "Server: maintenance")
	assert.Contains(t, waitWritten(t, bobConn, 1), "Server: maintenance")
}

func TestHub_BroadcastExcept_EmptyHub(t *testing.T) {
	hub := chat.NewHub()
	assert.Zero(t, hub.BroadcastExcept(chat.NewID(), []byte("nobody")))
}

func TestHub_Join_AnnouncesToOthersOnly(t *testing.T) {
	hub := chat.NewHub()
	_, aliceConn := joinClient(t, hub, "Alice")
	_, bobConn := joinClient(t, hub, "Bob")

	assert.Equal(t, []string{"Server: Bob has joined the chatroom."}, waitWritten(t, aliceConn, 1))

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, bobConn.GetWritten())
}

func TestHub_Leave_AnnouncesOnce(t *testing.T) {
	hub := chat.NewHub()
	alice, _ := joinClient(t, hub, "Alice")
	_, bobConn := joinClient(t, hub, "Bob")

	hub.Leave(alice)
	hub.Leave(alice)

	assert.Equal(t, []string{"Server: Alice has left the chatroom."}, waitWritten(t, bobConn, 1))
	assert.Equal(t, 1, hub.ClientCount())
	assert.Equal(t, chat.StateClosed, alice.State())

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, bobConn.GetWritten(), 1)
}

func TestHub_SlowConsumerIsEvicted(t *testing.T) {
	reg := prometheus.NewRegistry()
	hub := chat.NewHub(chat.WithMetrics(chat.NewMetrics(reg)))

	fast, fastConn := joinClient(t, hub, "fast")

	slowConn := newMockConn("slow")
	slowConn.blockWrite = true
	slow := chat.NewClient(slowConn, "slow", hub, chat.WithQueueSize(1), chat.WithSendTimeout(time.Hour))
	require.NoError(t, hub.Register(slow))
	// Not running: nothing drains the queue.

	assert.Equal(t, 1, hub.BroadcastExcept(fast.ID(), []byte("one")))
	assert.Equal(t, 0, hub.BroadcastExcept(fast.ID(), []byte("two")))

	assert.Equal(t, chat.StateClosed, slow.State())
	assert.True(t, slowConn.IsClosed())
	assert.Equal(t, 1, hub.ClientCount())
	assert.Empty(t, fastConn.GetWritten())

	expected := `
# HELP chatroom_evictions_total Clients disconnected because they could not keep up.
# TYPE chatroom_evictions_total counter
chatroom_evictions_total{reason="queue_full"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "chatroom_evictions_total"))
}

func TestHub_SlowWriterIsEvicted(t *testing.T) {
	reg := prometheus.NewRegistry()
	hub := chat.NewHub(chat.WithMetrics(chat.NewMetrics(reg)))

	_, aliceConn := joinClient(t, hub, "alice")

	slowConn := newMockConn("slow")
	slowConn.blockWrite = true
	slowClient := chat.NewClient(slowConn, "stuck", hub, chat.WithSendTimeout(20*time.Millisecond))
	require.NoError(t, hub.Register(slowClient))
	runClient(t, slowClient)

	hub.BroadcastExcept(chat.SystemID, []byte("tick"))

	select {
	case <-slowClient.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow writer was not disconnected")
	}
	assert.Equal(t, 1, hub.ClientCount())
	assert.Equal(t, []string{"tick"}, waitWritten(t, aliceConn, 1))

	expected := `
# HELP chatroom_evictions_total Clients disconnected because they could not keep up.
# TYPE chatroom_evictions_total counter
chatroom_evictions_total{reason="write_failed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "chatroom_evictions_total"))
}

func TestHub_ConcurrentJoinAndLeave(t *testing.T) {
	const (
		joins  = 50
		leaves = 20
	)
	hub := chat.NewHub()

	clients := make([]*chat.Client, joins)
	for i := range clients {
		clients[i] = chat.NewClient(newMockConn(fmt.Sprint(i)), fmt.Sprintf("user%d", i), hub,
			chat.WithQueueSize(4*joins))
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *chat.Client) {
			defer wg.Done()
			assert.NoError(t, hub.Join(c))
		}(c)
	}
	wg.Wait()
	require.Equal(t, joins, hub.ClientCount())

	for _, c := range clients[:leaves] {
		wg.Add(1)
		go func(c *chat.Client) {
			defer wg.Done()
			hub.Leave(c)
		}(c)
	}
	wg.Wait()

	assert.Equal(t, joins-leaves, hub.ClientCount())
	for _, c := range hub.Clients() {
		assert.Equal(t, chat.StateOpen, c.State())
	}
}

func TestHub_Clients_OrderedByID(t *testing.T) {
	hub := chat.NewHub()
	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Register(chat.NewClient(newMockConn("a"), fmt.Sprint(i), hub)))
	}

	clients := hub.Clients()

	require.Len(t, clients, 5)
	for i := 1; i < len(clients); i++ {
		assert.Less(t, clients[i-1].ID().String(), clients[i].ID().String())
	}
}

func TestHub_Shutdown(t *testing.T) {
	hub := chat.NewHub()
	alice, aliceConn := joinClient(t, hub, "alice")
	bob, bobConn := joinClient(t, hub, "bob")

	hub.Shutdown()
	hub.Shutdown()

	assert.Zero(t, hub.ClientCount())
	for _, c := range []*chat.Client{alice, bob} {
		select {
		case <-c.Done():
		case <-time.After(time.Second):
			t.Fatalf("%s not closed", c.Name())
		}
	}
	assert.True(t, aliceConn.IsClosed())
	assert.True(t, bobConn.IsClosed())
}

func TestHub_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	hub := chat.NewHub(chat.WithMetrics(chat.NewMetrics(reg)))

	alice, _ := joinClient(t, hub, "alice")
	_, _ = joinClient(t, hub, "bob")
	hub.Leave(alice)

	expected := `
# HELP chatroom_clients Number of clients currently registered in the hub.
# TYPE chatroom_clients gauge
chatroom_clients 1
# HELP chatroom_joins_total Clients that completed the handshake and joined.
# TYPE chatroom_joins_total counter
chatroom_joins_total 2
# HELP chatroom_leaves_total Clients that left with the QUIT directive.
# TYPE chatroom_leaves_total counter
chatroom_leaves_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"chatroom_clients", "chatroom_joins_total", "chatroom_leaves_total"))
}
