package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/chatroom/internal/client"
	"github.com/omochice/chatroom/internal/config"
	"github.com/omochice/chatroom/pkg/protocol"
)

const sendTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port      int
		name      string
		websocket bool
	)

	cmd := &cobra.Command{
		Use:          "chatroom-client HOST",
		Short:        "Chat with everybody connected to a chatroom server",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := net.JoinHostPort(args[0], strconv.Itoa(port))
			return run(cmd.Context(), addr, name, websocket, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&port, "port", "p", config.DefaultPort, "server port")
	flags.StringVarP(&name, "name", "n", "", "display name (prompted when empty)")
	flags.BoolVar(&websocket, "ws", false, "connect over WebSocket; PORT must be the server's --ws-port")

	return cmd
}

func run(ctx context.Context, addr, name string, websocket bool, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := bufio.NewScanner(in)
	if name == "" {
		fmt.Fprint(out, "Enter your name: ")
		if !scanner.Scan() {
			return errors.New("no name given")
		}
		name = scanner.Text()
	}

	var opts []client.Option
	if websocket {
		opts = append(opts, client.WithWebSocket())
	}
	c := client.New(addr, name, opts...)

	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()

	if err := send(ctx, c.Join); err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s. Type %s to leave.\n", addr, protocol.Quit)

	serverGone := make(chan struct{})
	go func() {
		defer close(serverGone)
		for msg := range c.Messages() {
			fmt.Fprintln(out, msg)
		}
	}()

	done := make(chan struct{})
	defer close(done)
	lines := readLines(scanner, done)

	for {
		select {
		case <-ctx.Done():
			return send(context.Background(), c.Leave)
		case <-serverGone:
			fmt.Fprintln(out, "Disconnected from server")
			return nil
		case line, ok := <-lines:
			if !ok || protocol.IsQuit([]byte(line)) {
				return send(ctx, c.Leave)
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := send(ctx, func(ctx context.Context) error {
				return c.SendMessage(ctx, line)
			}); err != nil {
				return err
			}
		}
	}
}

// readLines forwards scanned lines until input ends or done is closed.
func readLines(scanner *bufio.Scanner, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

func send(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return fn(ctx)
}
