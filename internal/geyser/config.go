package geyser

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
)

// Default configuration values.
const (
	// DefaultKeepaliveTime is the interval between transport keepalive pings.
	DefaultKeepaliveTime = 10 * time.Second

	// DefaultKeepaliveTimeout is how long to wait for a keepalive ack.
	DefaultKeepaliveTimeout = 5 * time.Second

	// DefaultMaxMessageSize is the maximum gRPC message size (64MB).
	DefaultMaxMessageSize = 64 * 1024 * 1024
)

// Configuration errors.
var (
	ErrNoEndpoint    = errors.New("geyser endpoint is required")
	ErrInvalidConfig = errors.New("invalid geyser configuration")
)

// Config holds the configuration for the Geyser client.
type Config struct {
	// Endpoint is host:port of the Yellowstone gRPC service.
	Endpoint string

	// Token is sent as the x-token metadata header when set.
	Token string

	// UseTLS enables TLS with the system roots.
	UseTLS bool

	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	MaxMessageSize int

	// Headers are added to the outgoing metadata of every stream.
	Headers map[string]string

	// DialOptions are appended after the defaults. Tests use this to
	// install a bufconn dialer.
	DialOptions []grpc.DialOption
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		UseTLS:           true,
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
		MaxMessageSize:   DefaultMaxMessageSize,
		Headers:          make(map[string]string),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}
	if c.KeepaliveTime <= 0 {
		return fmt.Errorf("%w: keepalive time must be positive", ErrInvalidConfig)
	}
	if c.KeepaliveTimeout <= 0 {
		return fmt.Errorf("%w: keepalive timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// WithDefaults returns a copy with defaults applied to zero values.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.KeepaliveTime == 0 {
		c.KeepaliveTime = defaults.KeepaliveTime
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = defaults.KeepaliveTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.Headers == nil {
		c.Headers = defaults.Headers
	}
	return c
}
