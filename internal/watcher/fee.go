package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"

	"github.com/gateway-fm/pingthing/internal/freshness"
	"github.com/gateway-fm/pingthing/internal/rpc"
)

// Fee polling defaults.
const (
	DefaultFeePollInterval = 350 * time.Millisecond
	DefaultFeePercentile   = 5000
)

// FeeWatcher polls recent prioritization fees and writes the maximum.
type FeeWatcher struct {
	client     rpc.Client
	cell       *freshness.Cell[uint64]
	clock      mclock.Clock
	interval   time.Duration
	percentile uint16
	logger     *slog.Logger
}

// FeeWatcherConfig configures a FeeWatcher.
type FeeWatcherConfig struct {
	Client     rpc.Client
	Cell       *freshness.Cell[uint64]
	Clock      mclock.Clock
	Interval   time.Duration // default 350ms
	Percentile uint16        // basis points, default 5000
	Logger     *slog.Logger
}

// NewFeeWatcher creates a FeeWatcher.
func NewFeeWatcher(cfg FeeWatcherConfig) *FeeWatcher {
	if cfg.Clock == nil {
		cfg.Clock = mclock.System{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFeePollInterval
	}
	if cfg.Percentile == 0 {
		cfg.Percentile = DefaultFeePercentile
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FeeWatcher{
		client:     cfg.Client,
		cell:       cfg.Cell,
		clock:      cfg.Clock,
		interval:   cfg.Interval,
		percentile: cfg.Percentile,
		logger:     cfg.Logger,
	}
}

// Run polls until ctx is done.
func (w *FeeWatcher) Run(ctx context.Context) error {
	for {
		w.poll(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(w.interval):
		}
	}
}

func (w *FeeWatcher) poll(ctx context.Context) {
	fees, err := w.client.GetRecentPrioritizationFees(ctx, w.percentile)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("prioritization fee poll failed", slog.Any("error", err))
		}
		return
	}
	fee, ok := rpc.MaxPrioritizationFee(fees)
	if !ok {
		w.logger.Debug("empty prioritization fee response")
		return
	}
	w.cell.Write(fee)
}
