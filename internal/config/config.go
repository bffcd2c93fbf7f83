// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gateway-fm/pingthing/pkg/types"
)

// Slot sources.
const (
	SlotSourceGRPC      = "grpc"
	SlotSourceWebsocket = "websocket"
)

// Confirmation modes.
const (
	ConfirmationSignature = "signature"
	ConfirmationWallet    = "wallet"
)

// Defaults
const (
	DefaultSlotSource          = SlotSourceGRPC
	DefaultConfirmationMode    = ConfirmationSignature
	DefaultTxsPerMinute        = 10
	DefaultCommitment          = types.CommitmentConfirmed
	DefaultConfirmationTimeout = 20 * time.Second
	DefaultResendInterval      = 2 * time.Second
	DefaultMaxBlockhashAge     = 30 * time.Second
	DefaultMaxSlotAge          = 500 * time.Millisecond
	DefaultFatalStaleness      = 10 * time.Second
	DefaultMaxReconnects       = 10
	DefaultReconnectDelay      = 5 * time.Second
	DefaultPriorityFee         = 5000
	DefaultFeePercentile       = 5000
	DefaultVAEndpoint          = "https://www.validators.app/api/v1/ping-thing/mainnet"
	DefaultPingerName          = "UNSET"
	DefaultListenAddr          = ":9090"
	DefaultLogLevel            = "info"
)

// Config holds pinger configuration.
type Config struct {
	// Endpoints
	RPCEndpoint      string
	SendEndpoint     string // optional custom sendTransaction endpoint
	GRPCEndpoint     string
	GRPCToken        string
	WSEndpoint       string
	SlotSource       string // "grpc" or "websocket"
	ListenAddr       string
	DatabasePath     string // empty disables the journal
	ValidatorsURL    string
	ValidatorsKey    string
	WalletKeypair    string // base58
	Region           string
	Name             string
	LogLevel         string
	Commitment       types.Commitment
	ConfirmationMode string

	// Probe loop
	LoopSleep           time.Duration
	TxsPerMinute        int
	ConfirmationTimeout time.Duration
	ResendInterval      time.Duration

	// Freshness gate
	MaxBlockhashAge time.Duration
	MaxSlotAge      time.Duration
	FatalStaleness  time.Duration

	// Reconnect policy
	MaxReconnects  int
	ReconnectDelay time.Duration

	// Priority fee
	UsePriorityFee bool
	PriorityFee    uint64 // fallback, micro-lamports per CU
	FeePercentile  uint16 // basis points

	// Sinks
	SkipValidatorsApp bool
	SkipPrometheus    bool
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		SlotSource:          DefaultSlotSource,
		ConfirmationMode:    DefaultConfirmationMode,
		TxsPerMinute:        DefaultTxsPerMinute,
		Commitment:          DefaultCommitment,
		ConfirmationTimeout: DefaultConfirmationTimeout,
		ResendInterval:      DefaultResendInterval,
		MaxBlockhashAge:     DefaultMaxBlockhashAge,
		MaxSlotAge:          DefaultMaxSlotAge,
		FatalStaleness:      DefaultFatalStaleness,
		MaxReconnects:       DefaultMaxReconnects,
		ReconnectDelay:      DefaultReconnectDelay,
		PriorityFee:         DefaultPriorityFee,
		FeePercentile:       DefaultFeePercentile,
		ValidatorsURL:       DefaultVAEndpoint,
		Name:                DefaultPingerName,
		ListenAddr:          DefaultListenAddr,
		LogLevel:            DefaultLogLevel,
	}
}

// Load reads configuration from environment variables and command-line flags.
// Command-line flags take precedence over environment variables.
func Load() (*Config, error) {
	return LoadFrom(os.Args[1:], os.Getenv)
}

// LoadFrom is Load with explicit arguments and environment lookup.
func LoadFrom(args []string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	env := envReader{getenv: getenv}

	// Environment first
	env.str("RPC_ENDPOINT", &cfg.RPCEndpoint)
	env.str("SEND_TX_ENDPOINT", &cfg.SendEndpoint)
	env.str("GRPC_ENDPOINT", &cfg.GRPCEndpoint)
	env.str("GRPC_X_TOKEN", &cfg.GRPCToken)
	env.str("WS_ENDPOINT", &cfg.WSEndpoint)
	env.str("SLOT_SOURCE", &cfg.SlotSource)
	env.str("CONFIRMATION_MODE", &cfg.ConfirmationMode)
	env.str("WALLET_PRIVATE_KEYPAIR", &cfg.WalletKeypair)
	env.str("VA_API_KEY", &cfg.ValidatorsKey)
	env.str("VA_ENDPOINT", &cfg.ValidatorsURL)
	env.str("PINGER_REGION", &cfg.Region)
	env.str("PINGER_NAME", &cfg.Name)
	env.str("DATABASE_PATH", &cfg.DatabasePath)
	env.str("LOG_LEVEL", &cfg.LogLevel)

	var commitment string
	env.str("COMMITMENT", &commitment)
	if commitment != "" {
		cfg.Commitment = types.Commitment(commitment)
	}

	if port := getenv("PROMETHEUS_PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	}
	env.str("LISTEN_ADDR", &cfg.ListenAddr)

	env.millis("SLEEP_MS_LOOP", &cfg.LoopSleep)
	env.integer("TXS_PER_MINUTE_LIMIT", &cfg.TxsPerMinute)
	env.seconds("TX_CONFIRMATION_TIMEOUT", &cfg.ConfirmationTimeout)
	env.millis("RESEND_INTERVAL_MS", &cfg.ResendInterval)
	env.millis("MAX_BLOCKHASH_AGE_MS", &cfg.MaxBlockhashAge)
	env.millis("MAX_SLOT_AGE_MS", &cfg.MaxSlotAge)
	env.millis("FATAL_STALENESS_MS", &cfg.FatalStaleness)
	env.integer("MAX_RECONNECTS", &cfg.MaxReconnects)
	env.millis("RECONNECT_DELAY_MS", &cfg.ReconnectDelay)
	env.boolean("USE_PRIORITY_FEE", &cfg.UsePriorityFee)
	env.uint64("PRIORITY_FEE_MICRO_LAMPORTS", &cfg.PriorityFee)
	env.uint16("PRIORITY_FEE_PERCENTILE", &cfg.FeePercentile)
	env.boolean("SKIP_VALIDATORS_APP", &cfg.SkipValidatorsApp)
	env.boolean("SKIP_PROMETHEUS", &cfg.SkipPrometheus)

	var verbose bool
	env.boolean("VERBOSE_LOG", &verbose)

	if env.err != nil {
		return nil, env.err
	}

	// Flags override
	fs := flag.NewFlagSet("pinger", flag.ContinueOnError)
	var (
		rpcURL       = fs.String("rpc", cfg.RPCEndpoint, "Solana JSON-RPC URL")
		sendURL      = fs.String("send-endpoint", cfg.SendEndpoint, "Custom sendTransaction endpoint")
		grpcURL      = fs.String("grpc", cfg.GRPCEndpoint, "Yellowstone gRPC endpoint")
		wsURL        = fs.String("ws", cfg.WSEndpoint, "Solana websocket endpoint")
		slotSource   = fs.String("slot-source", cfg.SlotSource, "Slot source (grpc, websocket)")
		confMode     = fs.String("confirmation-mode", cfg.ConfirmationMode, "Confirmation mode (signature, wallet)")
		sleepMs      = fs.Int("sleep-ms", int(cfg.LoopSleep/time.Millisecond), "Pause between cycles in milliseconds")
		perMinute    = fs.Int("tx-per-minute", cfg.TxsPerMinute, "Maximum probes per rolling minute")
		commitFlag   = fs.String("commitment", string(cfg.Commitment), "Commitment (processed, confirmed, finalized)")
		region       = fs.String("region", cfg.Region, "Pinger region")
		name         = fs.String("name", cfg.Name, "Pinger name (metrics label)")
		listenAddr   = fs.String("listen", cfg.ListenAddr, "Status and metrics listen address")
		databasePath = fs.String("database", cfg.DatabasePath, "SQLite journal path (empty disables)")
		logLevel     = fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.RPCEndpoint = *rpcURL
	cfg.SendEndpoint = *sendURL
	cfg.GRPCEndpoint = *grpcURL
	cfg.WSEndpoint = *wsURL
	cfg.SlotSource = *slotSource
	cfg.ConfirmationMode = *confMode
	cfg.LoopSleep = time.Duration(*sleepMs) * time.Millisecond
	cfg.TxsPerMinute = *perMinute
	cfg.Commitment = types.Commitment(*commitFlag)
	cfg.Region = *region
	cfg.Name = *name
	cfg.ListenAddr = *listenAddr
	cfg.DatabasePath = *databasePath
	cfg.LogLevel = *logLevel

	if verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RPCEndpoint == "" {
		return fmt.Errorf("RPC endpoint is required (RPC_ENDPOINT)")
	}
	if c.GRPCEndpoint == "" {
		return fmt.Errorf("gRPC endpoint is required (GRPC_ENDPOINT)")
	}
	if c.WalletKeypair == "" {
		return fmt.Errorf("wallet keypair is required (WALLET_PRIVATE_KEYPAIR)")
	}
	if c.Region == "" {
		return fmt.Errorf("pinger region is required (PINGER_REGION)")
	}
	if !c.SkipValidatorsApp && c.ValidatorsKey == "" {
		return fmt.Errorf("validators.app API key is required unless SKIP_VALIDATORS_APP is set (VA_API_KEY)")
	}

	switch c.SlotSource {
	case SlotSourceGRPC:
	case SlotSourceWebsocket:
		if c.WSEndpoint == "" {
			return fmt.Errorf("websocket endpoint is required when slot source is websocket (WS_ENDPOINT)")
		}
	default:
		return fmt.Errorf("invalid slot source: %s (valid: grpc, websocket)", c.SlotSource)
	}

	switch c.ConfirmationMode {
	case ConfirmationSignature, ConfirmationWallet:
	default:
		return fmt.Errorf("invalid confirmation mode: %s (valid: signature, wallet)", c.ConfirmationMode)
	}

	if !c.Commitment.Valid() {
		return fmt.Errorf("invalid commitment: %s (valid: processed, confirmed, finalized)", c.Commitment)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	if c.TxsPerMinute <= 0 {
		return fmt.Errorf("txs per minute must be positive")
	}
	if c.LoopSleep < 0 {
		return fmt.Errorf("loop sleep cannot be negative")
	}
	if c.ConfirmationTimeout <= 0 {
		return fmt.Errorf("confirmation timeout must be positive")
	}
	if c.ResendInterval <= 0 {
		return fmt.Errorf("resend interval must be positive")
	}
	if c.MaxBlockhashAge <= 0 || c.MaxSlotAge <= 0 || c.FatalStaleness <= 0 {
		return fmt.Errorf("freshness thresholds must be positive")
	}
	if c.MaxReconnects < 0 {
		return fmt.Errorf("max reconnects cannot be negative")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive")
	}
	if c.FeePercentile > 10000 {
		return fmt.Errorf("priority fee percentile must be at most 10000 basis points")
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := ParseLogLevel(c.LogLevel)
	return level
}

// ParseLogLevel maps debug/info/warn/error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", s)
}

// envReader collects the first parse error so Load can report it.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key string, dst *string) {
	if v := e.getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) parse(key string, fn func(string) error) {
	v := e.getenv(key)
	if v == "" || e.err != nil {
		return
	}
	if err := fn(v); err != nil {
		e.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
}

func (e *envReader) integer(key string, dst *int) {
	e.parse(key, func(v string) error {
		n, err := strconv.Atoi(v)
		*dst = n
		return err
	})
}

func (e *envReader) uint64(key string, dst *uint64) {
	e.parse(key, func(v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		*dst = n
		return err
	})
}

func (e *envReader) uint16(key string, dst *uint16) {
	e.parse(key, func(v string) error {
		n, err := strconv.ParseUint(v, 10, 16)
		*dst = uint16(n)
		return err
	})
}

func (e *envReader) boolean(key string, dst *bool) {
	e.parse(key, func(v string) error {
		b, err := strconv.ParseBool(v)
		*dst = b
		return err
	})
}

func (e *envReader) millis(key string, dst *time.Duration) {
	e.parse(key, func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		*dst = time.Duration(n) * time.Millisecond
		return err
	})
}

func (e *envReader) seconds(key string, dst *time.Duration) {
	e.parse(key, func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		*dst = time.Duration(n) * time.Second
		return err
	})
}
