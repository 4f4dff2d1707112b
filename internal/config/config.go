// Package config holds the relay configuration: built-in defaults,
// CHATROOM_* environment overrides, command line flags and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/omochice/chatroom/pkg/protocol"
)

// DefaultPort is the TCP port the relay listens on when none is given.
const DefaultPort = 4780

// maxFrameSizeLimit caps the configurable frame size.
const maxFrameSizeLimit = 16 << 20

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// envPrefix is prepended to every key to form its environment variable,
// e.g. send-timeout is read from CHATROOM_SEND_TIMEOUT.
const envPrefix = "CHATROOM"

// Config is the relay configuration. The mapstructure keys double as the
// flag names of the server command.
type Config struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	WSPort           int           `mapstructure:"ws-port"`
	MetricsAddr      string        `mapstructure:"metrics-addr"`
	MaxFrameSize     int           `mapstructure:"max-frame-size"`
	QueueSize        int           `mapstructure:"queue-size"`
	SendTimeout      time.Duration `mapstructure:"send-timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout"`
	LogLevel         string        `mapstructure:"log-level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             DefaultPort,
		MaxFrameSize:     protocol.DefaultMaxFrameSize,
		QueueSize:        64,
		SendTimeout:      5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		LogLevel:         "info",
	}
}

// Load resolves the configuration from, in order of precedence, flags that
// were set explicitly, CHATROOM_* environment variables and Default.
// flags may be nil.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("ws-port", d.WSPort)
	v.SetDefault("metrics-addr", d.MetricsAddr)
	v.SetDefault("max-frame-size", d.MaxFrameSize)
	v.SetDefault("queue-size", d.QueueSize)
	v.SetDefault("send-timeout", d.SendTimeout)
	v.SetDefault("handshake-timeout", d.HandshakeTimeout)
	v.SetDefault("log-level", d.LogLevel)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

// FromEnv returns Default overridden by the CHATROOM_* environment variables.
func FromEnv() (Config, error) {
	return Load(nil)
}

// Addr returns the TCP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// WSAddr returns the WebSocket listen address, or "" when disabled.
func (c Config) WSAddr() string {
	if c.WSPort == 0 {
		return ""
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.WSPort))
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	return level, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port))
	}
	if c.WSPort < 0 || c.WSPort > 65535 {
		errs = append(errs, fmt.Errorf("%w: websocket port %d out of range", ErrInvalid, c.WSPort))
	}
	if c.WSPort != 0 && c.WSPort == c.Port {
		errs = append(errs, fmt.Errorf("%w: websocket port must differ from port %d", ErrInvalid, c.Port))
	}
	if c.MaxFrameSize <= 0 || c.MaxFrameSize > maxFrameSizeLimit {
		errs = append(errs, fmt.Errorf("%w: max frame size %d not in 1..%d", ErrInvalid, c.MaxFrameSize, maxFrameSizeLimit))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: queue size must be positive, got %d", ErrInvalid, c.QueueSize))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: send timeout must be positive, got %s", ErrInvalid, c.SendTimeout))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: handshake timeout must be positive, got %s", ErrInvalid, c.HandshakeTimeout))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
