package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/omochice/chatroom/internal/chat"
)

// DefaultHandshakeTimeout bounds the transport handshake plus the name frame.
const DefaultHandshakeTimeout = 10 * time.Second

// acceptBackoff is the pause after a failed Accept.
const acceptBackoff = 50 * time.Millisecond

var errNotListening = errors.New("server: listener is not bound")

// Transport turns an accepted connection into a framed chat connection.
type Transport interface {
	Name() string
	Handshake(ctx context.Context, conn net.Conn) (chat.Conn, error)
}

// Listener accepts connections for one transport and hands every one of
// them to the hub once it has introduced itself.
type Listener struct {
	transport        Transport
	hub              *chat.Hub
	handshakeTimeout time.Duration
	clientOpts       []chat.ClientOption
	logger           *slog.Logger

	listener net.Listener
	mu       sync.Mutex
	closed   bool

	// abort cancels connections that are still in the handshake.
	abortCtx context.Context
	abort    context.CancelFunc

	acceptWG  sync.WaitGroup
	sessionWG sync.WaitGroup
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithHandshakeTimeout bounds the onboarding of a connection.
func WithHandshakeTimeout(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.handshakeTimeout = d
		}
	}
}

// WithClientOptions sets the options every accepted client is created with.
func WithClientOptions(opts ...chat.ClientOption) ListenerOption {
	return func(l *Listener) { l.clientOpts = opts }
}

// WithListenerLogger sets the logger.
func WithListenerLogger(logger *slog.Logger) ListenerOption {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewListener creates a listener for transport feeding hub.
func NewListener(transport Transport, hub *chat.Hub, opts ...ListenerOption) *Listener {
	l := &Listener{
		transport:        transport,
		hub:              hub,
		handshakeTimeout: DefaultHandshakeTimeout,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("transport", transport.Name())
	l.abortCtx, l.abort = context.WithCancel(context.Background())
	return l
}

// Listen binds addr. A failure is returned as *BindError.
func (l *Listener) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Transport: l.transport.Name(), Addr: addr, Err: err}
	}
	l.listener = ln
	l.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (l *Listener) Addr() string {
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return ""
}

// Serve accepts connections until Close. Sessions run under ctx.
// It returns nil once the listener is closed.
func (l *Listener) Serve(ctx context.Context) error {
	if l.listener == nil {
		return errNotListening
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.acceptWG.Add(1)
	l.mu.Unlock()
	defer l.acceptWG.Done()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || l.isClosed() {
				return nil
			}
			l.logger.Error("failed to accept connection", "err", err)
			select {
			case <-l.abortCtx.Done():
				return nil
			case <-time.After(acceptBackoff):
			}
			continue
		}

		l.sessionWG.Add(1)
		go func() {
			defer l.sessionWG.Done()
			l.handle(ctx, conn)
		}()
	}
}

// Close stops accepting, abandons connections still in the handshake and
// waits for the accept loop to return. Established sessions keep running.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.abort()
	var err error
	if l.listener != nil {
		err = l.listener.Close()
	}
	l.acceptWG.Wait()
	return err
}

// Wait waits for every session started by this listener.
// Call it after Close.
func (l *Listener) Wait() {
	l.sessionWG.Wait()
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	logger := l.logger.With("remote", remote)
	logger.Debug("connection accepted")

	client, err := l.onboard(ctx, conn)
	if err != nil {
		logger.Warn("handshake failed", "err", err)
		return
	}

	if err := l.hub.Join(client); err != nil {
		logger.Warn("failed to join", "name", client.Name(), "err", err)
		_ = client.Close()
		return
	}

	if err := client.Run(ctx); err != nil {
		logger.Debug("session ended", "name", client.Name(), "err", err)
	}
}

// onboard runs the transport handshake and reads the display name within
// the handshake timeout. conn is closed when it fails.
func (l *Listener) onboard(ctx context.Context, conn net.Conn) (*chat.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, l.handshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(l.abortCtx, cancel)
	defer stop()

	chatConn, err := l.transport.Handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	name, err := chat.ReadName(ctx, chatConn)
	if err != nil {
		_ = chatConn.Close()
		return nil, err
	}

	return chat.NewClient(chatConn, name, l.hub, l.clientOpts...), nil
}
