// Package client implements the chat client used by the console command.
// It speaks the same framing as the relay over TCP or WebSocket.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/gobwas/ws"

	"github.com/omochice/chatroom/internal/chat"
	"github.com/omochice/chatroom/internal/transport/tcp"
	wstransport "github.com/omochice/chatroom/internal/transport/ws"
	"github.com/omochice/chatroom/pkg/protocol"
)

// ErrNotConnected is returned when sending without a connection.
var ErrNotConnected = errors.New("client: not connected")

// Client represents a chat client
type Client struct {
	address      string
	username     string
	websocket    bool
	maxFrameSize int
	logger       *slog.Logger

	conn     chat.Conn
	messages chan string
	mu       sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithWebSocket connects through the relay's WebSocket listener.
func WithWebSocket() Option {
	return func(c *Client) { c.websocket = true }
}

// WithMaxFrameSize sets the largest frame accepted from the relay.
func WithMaxFrameSize(n int) Option {
	return func(c *Client) { c.maxFrameSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a new Client instance
func New(address, username string, opts ...Option) *Client {
	c := &Client{
		address:  address,
		username: username,
		logger:   slog.Default(),
		messages: make(chan string, 16),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes a connection to the server and starts receiving.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.receiveMessages(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (chat.Conn, error) {
	if c.websocket {
		conn, br, _, err := ws.Dial(ctx, "ws://"+c.address+"/")
		if err != nil {
			return nil, err
		}
		return wstransport.NewClientConn(conn, br, c.maxFrameSize), nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, err
	}
	return tcp.NewConn(conn, c.maxFrameSize), nil
}

// Disconnect closes the connection to the server and waits for the
// receiver to stop. Messages is closed afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.done) })
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
}

// IsConnected reports whether the client holds a connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Join introduces the client to the chatroom with its username.
func (c *Client) Join(ctx context.Context) error {
	name, err := chat.ParseName([]byte(c.username))
	if err != nil {
		return err
	}
	c.username = name
	return c.send(ctx, []byte(name))
}

// SendMessage sends content as "<username>: <content>".
func (c *Client) SendMessage(ctx context.Context, content string) error {
	return c.send(ctx, []byte(c.username+": "+content))
}

// Leave sends the QUIT directive. The relay closes the connection after it.
func (c *Client) Leave(ctx context.Context) error {
	return c.send(ctx, []byte(protocol.Quit))
}

// Messages returns the lines received from the relay.
func (c *Client) Messages() <-chan string {
	return c.messages
}

func (c *Client) send(ctx context.Context, payload []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, payload); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (c *Client) receiveMessages(conn chat.Conn) {
	defer c.wg.Done()
	defer close(c.messages)

	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("connection closed", "err", err)
			}
			return
		}

		select {
		case c.messages <- string(data):
		case <-c.done:
			return
		}
	}
}
