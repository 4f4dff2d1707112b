package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/chatroom/internal/chat"
	"github.com/omochice/chatroom/internal/config"
	"github.com/omochice/chatroom/internal/server"
)

const metricsShutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatroom-server HOST",
		Short: "Relay chat lines between every connected client",
		Long: "chatroom-server listens on HOST:PORT for framed TCP clients and, when\n" +
			"--ws-port is set, for WebSocket clients. Every line a client sends is\n" +
			"relayed to all other clients.\n\n" +
			"Every flag can also be set through the environment, e.g. --send-timeout\n" +
			"as CHATROOM_SEND_TIMEOUT and HOST as CHATROOM_HOST.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Host = args[0]
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	d := config.Default()
	flags := cmd.Flags()
	flags.IntP("port", "p", d.Port, "TCP port to listen on")
	flags.Int("ws-port", d.WSPort, "WebSocket port to listen on (0 disables WebSocket)")
	flags.String("metrics-addr", d.MetricsAddr, "address of the /metrics endpoint (empty disables it)")
	flags.Int("max-frame-size", d.MaxFrameSize, "largest accepted frame in bytes")
	flags.Int("queue-size", d.QueueSize, "pending outbound frames per client before it is disconnected")
	flags.Duration("send-timeout", d.SendTimeout, "deadline for writing one frame to a client")
	flags.Duration("handshake-timeout", d.HandshakeTimeout, "deadline for a new connection to introduce itself")
	flags.String("log-level", d.LogLevel, "log level: debug, info, warn or error")

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.New(cfg, server.WithLogger(logger), server.WithMetrics(chat.NewMetrics(reg)))
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			srv.Shutdown()
			bindErr := &server.BindError{Transport: "metrics", Addr: cfg.MetricsAddr, Err: err}
			logger.Error("failed to start metrics endpoint", "err", bindErr)
			return bindErr
		}
		metrics := newMetricsServer(reg)
		logger.Info("serving metrics", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := metrics.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return metrics.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		srv.Shutdown()
		return nil
	})

	return g.Wait()
}

func newMetricsServer(reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
