package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omochice/chatroom/pkg/protocol"
)

const (
	// DefaultQueueSize is the number of pending outbound frames per client.
	DefaultQueueSize = 64

	// DefaultSendTimeout bounds a single frame write to a client.
	DefaultSendTimeout = 5 * time.Second
)

// State is the lifecycle state of a Client.
// It only moves forward: Open, Closing, Closed.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is one connected chat session.
type Client struct {
	id          ID
	name        string
	conn        Conn
	hub         *Hub
	outgoing    chan []byte
	queueSize   int
	sendTimeout time.Duration
	logger      *slog.Logger

	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithID overrides the generated client ID.
func WithID(id ID) ClientOption {
	return func(c *Client) { c.id = id }
}

// WithQueueSize sets the outbound queue capacity. Values below 1 are ignored.
func WithQueueSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithSendTimeout sets the deadline of a single frame write. Values below or
// equal to zero are ignored.
func WithSendTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.sendTimeout = d
		}
	}
}

// WithClientLogger sets the logger; client attributes are added to it.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates an open client that owns conn.
// The client is not registered until Hub.Join or Hub.Register is called.
func NewClient(conn Conn, name string, hub *Hub, opts ...ClientOption) *Client {
	c := &Client{
		id:          NewID(),
		name:        name,
		conn:        conn,
		hub:         hub,
		queueSize:   DefaultQueueSize,
		sendTimeout: DefaultSendTimeout,
		logger:      hub.logger,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.outgoing = make(chan []byte, c.queueSize)
	c.logger = c.logger.With("client", c.id.String(), "name", name, "remote", conn.RemoteAddr())
	return c
}

// ID returns the client ID.
func (c *Client) ID() ID { return c.id }

// Name returns the display name.
func (c *Client) Name() string { return c.name }

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string { return c.conn.RemoteAddr() }

// State returns the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send queues payload for delivery without blocking.
// It fails with ErrSlowConsumer when the queue is full and with
// ErrClientClosed once the client is closing.
func (c *Client) Send(payload []byte) error {
	if c.State() != StateOpen {
		return ErrClientClosed
	}
	select {
	case c.outgoing <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Run drives the session: it starts the write loop and runs the read loop on
// the calling goroutine. It returns once both loops have stopped; the client
// is closed by then. A nil error means the peer left or the client was closed
// locally.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx)
	}()

	err := c.readLoop(ctx)
	_ = c.Close()
	cancel()
	<-writerDone
	return err
}

// Close unregisters the client and releases its connection.
// It is safe to call from any goroutine and more than once.
func (c *Client) Close() error {
	_, err := c.close()
	return err
}

// close reports whether this call performed the close.
func (c *Client) close() (bool, error) {
	var (
		first bool
		err   error
	)
	c.closeOnce.Do(func() {
		first = true
		c.state.Store(int32(StateClosing))
		if uerr := c.hub.Unregister(c); uerr != nil {
			c.logger.Debug("client was not registered", "err", uerr)
		}
		err = c.conn.Close()
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
	return first, err
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		data, err := c.conn.Read(ctx)
		if err != nil {
			return c.readError(ctx, err)
		}

		if protocol.IsQuit(data) {
			c.hub.Leave(c)
			return nil
		}

		c.hub.metrics.messageReceived()
		c.logger.Debug("message received", "bytes", len(data))
		c.hub.BroadcastExcept(c.id, data)
	}
}

func (c *Client) readError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, io.EOF):
		c.logger.Info("client closed the connection")
		return nil
	case c.State() != StateOpen || ctx.Err() != nil:
		// Closed locally: eviction, shutdown or cancellation.
		return nil
	case errors.Is(err, protocol.ErrFrameTooLarge), errors.Is(err, protocol.ErrMalformedFrame):
		c.hub.metrics.protocolViolation()
		c.logger.Warn("protocol violation, disconnecting", "err", err)
		return err
	default:
		c.logger.Warn("read failed", "err", err)
		return err
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.outgoing:
			wctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
			err := c.conn.Write(wctx, data)
			cancel()
			if err != nil {
				if c.State() == StateOpen && ctx.Err() == nil {
					c.hub.metrics.evicted(evictWriteFailed)
					c.logger.Warn("write failed, disconnecting", "err", err)
				}
				_ = c.Close()
				return
			}
		}
	}
}
