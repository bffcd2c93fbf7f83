package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gateway-fm/pingthing/pkg/types"
)

func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func requiredEnv() map[string]string {
	return map[string]string{
		"RPC_ENDPOINT":           "http://localhost:8899",
		"GRPC_ENDPOINT":          "localhost:10000",
		"WALLET_PRIVATE_KEYPAIR": "keypair",
		"PINGER_REGION":          "fra",
		"VA_API_KEY":             "token",
	}
}

func validConfig() Config {
	cfg := Default()
	cfg.RPCEndpoint = "http://localhost:8899"
	cfg.GRPCEndpoint = "localhost:10000"
	cfg.WalletKeypair = "keypair"
	cfg.Region = "fra"
	cfg.ValidatorsKey = "token"
	return *cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(nil, mapEnv(requiredEnv()))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.SlotSource != SlotSourceGRPC {
		t.Errorf("SlotSource = %q, want %q", cfg.SlotSource, SlotSourceGRPC)
	}
	if cfg.TxsPerMinute != 10 {
		t.Errorf("TxsPerMinute = %d, want 10", cfg.TxsPerMinute)
	}
	if cfg.Commitment != types.CommitmentConfirmed {
		t.Errorf("Commitment = %q, want confirmed", cfg.Commitment)
	}
	if cfg.ConfirmationTimeout != 20*time.Second {
		t.Errorf("ConfirmationTimeout = %v, want 20s", cfg.ConfirmationTimeout)
	}
	if cfg.MaxSlotAge != 500*time.Millisecond {
		t.Errorf("MaxSlotAge = %v, want 500ms", cfg.MaxSlotAge)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.Name != "UNSET" {
		t.Errorf("Name = %q, want UNSET", cfg.Name)
	}
	if cfg.DatabasePath != "" {
		t.Errorf("DatabasePath = %q, want empty", cfg.DatabasePath)
	}
}

func TestLoadEnvironment(t *testing.T) {
	env := requiredEnv()
	env["TXS_PER_MINUTE_LIMIT"] = "30"
	env["SLEEP_MS_LOOP"] = "250"
	env["TX_CONFIRMATION_TIMEOUT"] = "45"
	env["RESEND_INTERVAL_MS"] = "1500"
	env["USE_PRIORITY_FEE"] = "true"
	env["PRIORITY_FEE_PERCENTILE"] = "7500"
	env["PRIORITY_FEE_MICRO_LAMPORTS"] = "9000"
	env["COMMITMENT"] = "finalized"
	env["PROMETHEUS_PORT"] = "9100"
	env["VERBOSE_LOG"] = "true"

	cfg, err := LoadFrom(nil, mapEnv(env))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.TxsPerMinute != 30 {
		t.Errorf("TxsPerMinute = %d, want 30", cfg.TxsPerMinute)
	}
	if cfg.LoopSleep != 250*time.Millisecond {
		t.Errorf("LoopSleep = %v, want 250ms", cfg.LoopSleep)
	}
	if cfg.ConfirmationTimeout != 45*time.Second {
		t.Errorf("ConfirmationTimeout = %v, want 45s", cfg.ConfirmationTimeout)
	}
	if cfg.ResendInterval != 1500*time.Millisecond {
		t.Errorf("ResendInterval = %v, want 1.5s", cfg.ResendInterval)
	}
	if !cfg.UsePriorityFee || cfg.FeePercentile != 7500 || cfg.PriorityFee != 9000 {
		t.Errorf("fee settings = %v/%d/%d", cfg.UsePriorityFee, cfg.FeePercentile, cfg.PriorityFee)
	}
	if cfg.Commitment != types.CommitmentFinalized {
		t.Errorf("Commitment = %q, want finalized", cfg.Commitment)
	}
	if cfg.ListenAddr != ":9100" {
		t.Errorf("ListenAddr = %q, want :9100", cfg.ListenAddr)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v, want debug", cfg.SlogLevel())
	}
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	env := requiredEnv()
	env["TXS_PER_MINUTE_LIMIT"] = "30"
	env["LISTEN_ADDR"] = ":8000"

	cfg, err := LoadFrom([]string{"-tx-per-minute", "5", "-listen", ":7000", "-region", "ams"}, mapEnv(env))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.TxsPerMinute != 5 {
		t.Errorf("TxsPerMinute = %d, want 5", cfg.TxsPerMinute)
	}
	if cfg.ListenAddr != ":7000" {
		t.Errorf("ListenAddr = %q, want :7000", cfg.ListenAddr)
	}
	if cfg.Region != "ams" {
		t.Errorf("Region = %q, want ams", cfg.Region)
	}
}

func TestLoadInvalidEnvironment(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"TXS_PER_MINUTE_LIMIT", "ten"},
		{"USE_PRIORITY_FEE", "maybe"},
		{"PRIORITY_FEE_PERCENTILE", "70000"},
		{"RESEND_INTERVAL_MS", "2s"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			env := requiredEnv()
			env[tt.key] = tt.value
			_, err := LoadFrom(nil, mapEnv(env))
			if err == nil {
				t.Fatalf("LoadFrom() with %s=%q succeeded, want error", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not name %s", err, tt.key)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing RPC endpoint",
			modify:  func(c *Config) { c.RPCEndpoint = "" },
			wantErr: true,
		},
		{
			name:    "missing gRPC endpoint",
			modify:  func(c *Config) { c.GRPCEndpoint = "" },
			wantErr: true,
		},
		{
			name:    "missing keypair",
			modify:  func(c *Config) { c.WalletKeypair = "" },
			wantErr: true,
		},
		{
			name:    "missing region",
			modify:  func(c *Config) { c.Region = "" },
			wantErr: true,
		},
		{
			name:    "missing validators.app key",
			modify:  func(c *Config) { c.ValidatorsKey = "" },
			wantErr: true,
		},
		{
			name: "validators.app key not needed when skipped",
			modify: func(c *Config) {
				c.ValidatorsKey = ""
				c.SkipValidatorsApp = true
			},
			wantErr: false,
		},
		{
			name:    "websocket slot source needs endpoint",
			modify:  func(c *Config) { c.SlotSource = SlotSourceWebsocket },
			wantErr: true,
		},
		{
			name: "websocket slot source with endpoint",
			modify: func(c *Config) {
				c.SlotSource = SlotSourceWebsocket
				c.WSEndpoint = "ws://localhost:8900"
			},
			wantErr: false,
		},
		{
			name:    "unknown slot source",
			modify:  func(c *Config) { c.SlotSource = "carrier-pigeon" },
			wantErr: true,
		},
		{
			name:    "unknown confirmation mode",
			modify:  func(c *Config) { c.ConfirmationMode = "both" },
			wantErr: true,
		},
		{
			name:    "invalid commitment",
			modify:  func(c *Config) { c.Commitment = "rooted" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "trace" },
			wantErr: true,
		},
		{
			name:    "zero rate limit",
			modify:  func(c *Config) { c.TxsPerMinute = 0 },
			wantErr: true,
		},
		{
			name:    "zero resend interval",
			modify:  func(c *Config) { c.ResendInterval = 0 },
			wantErr: true,
		},
		{
			name:    "zero slot age",
			modify:  func(c *Config) { c.MaxSlotAge = 0 },
			wantErr: true,
		},
		{
			name:    "negative reconnects",
			modify:  func(c *Config) { c.MaxReconnects = -1 },
			wantErr: true,
		},
		{
			name:    "percentile above 100%",
			modify:  func(c *Config) { c.FeePercentile = 10001 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
