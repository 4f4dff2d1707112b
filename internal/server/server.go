// Package server runs the chat relay: it binds the configured listeners,
// onboards connections into a shared hub and shuts everything down in order.
package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/omochice/chatroom/internal/chat"
	"github.com/omochice/chatroom/internal/config"
	"github.com/omochice/chatroom/internal/transport/tcp"
	"github.com/omochice/chatroom/internal/transport/ws"
)

// Server represents a chat relay serving TCP and, optionally, WebSocket clients
// from a single hub.
type Server struct {
	cfg     config.Config
	hub     *chat.Hub
	logger  *slog.Logger
	metrics *chat.Metrics

	listeners []*Listener
	tcp       *Listener
	ws        *Listener

	ctx          context.Context
	cancel       context.CancelFunc
	serveWG      sync.WaitGroup
	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger of the server and everything it creates.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the chat collectors.
func WithMetrics(m *chat.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new Server instance. cfg is expected to be valid.
func New(cfg config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = chat.NewHub(chat.WithLogger(s.logger), chat.WithMetrics(s.metrics))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start binds the listeners and serves them in the background.
// When a bind fails the listeners bound so far are closed and the
// *BindError is returned.
func (s *Server) Start() error {
	s.tcp = s.newListener(tcp.Transport{MaxFrameSize: s.cfg.MaxFrameSize})
	if err := s.tcp.Listen(s.cfg.Addr()); err != nil {
		return err
	}
	s.listeners = append(s.listeners, s.tcp)

	if addr := s.cfg.WSAddr(); addr != "" {
		s.ws = s.newListener(ws.Transport{MaxFrameSize: s.cfg.MaxFrameSize})
		if err := s.ws.Listen(addr); err != nil {
			_ = s.tcp.Close()
			return err
		}
		s.listeners = append(s.listeners, s.ws)
	}

	for _, l := range s.listeners {
		s.serveWG.Add(1)
		go func(l *Listener) {
			defer s.serveWG.Done()
			if err := l.Serve(s.ctx); err != nil {
				s.logger.Error("listener stopped", "err", err)
			}
		}(l)
	}
	return nil
}

func (s *Server) newListener(t Transport) *Listener {
	return NewListener(t, s.hub,
		WithHandshakeTimeout(s.cfg.HandshakeTimeout),
		WithListenerLogger(s.logger),
		WithClientOptions(
			chat.WithQueueSize(s.cfg.QueueSize),
			chat.WithSendTimeout(s.cfg.SendTimeout),
		),
	)
}

// Addr returns the TCP listening address.
func (s *Server) Addr() string {
	if s.tcp != nil {
		return s.tcp.Addr()
	}
	return ""
}

// WSAddr returns the WebSocket listening address, or "" when disabled.
func (s *Server) WSAddr() string {
	if s.ws != nil {
		return s.ws.Addr()
	}
	return ""
}

// Hub returns the hub shared by all listeners.
func (s *Server) Hub() *chat.Hub {
	return s.hub
}

// Shutdown stops accepting, closes every client and waits for all sessions
// to end. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		for _, l := range s.listeners {
			if err := l.Close(); err != nil {
				s.logger.Warn("failed to close listener", "err", err)
			}
		}
		s.serveWG.Wait()

		s.hub.Shutdown()
		s.cancel()

		for _, l := range s.listeners {
			l.Wait()
		}
		s.logger.Info("server stopped")
	})
}
