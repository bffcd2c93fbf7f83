// Pinger sends a self-transfer probe in a loop and reports how long each
// takes to confirm.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/pingthing/internal/config"
	"github.com/gateway-fm/pingthing/internal/freshness"
	"github.com/gateway-fm/pingthing/internal/geyser"
	"github.com/gateway-fm/pingthing/internal/metrics"
	"github.com/gateway-fm/pingthing/internal/probe"
	"github.com/gateway-fm/pingthing/internal/ratelimit"
	"github.com/gateway-fm/pingthing/internal/report"
	"github.com/gateway-fm/pingthing/internal/rpc"
	"github.com/gateway-fm/pingthing/internal/sender"
	"github.com/gateway-fm/pingthing/internal/storage"
	"github.com/gateway-fm/pingthing/internal/subscription"
	"github.com/gateway-fm/pingthing/internal/transport"
	"github.com/gateway-fm/pingthing/internal/txbuilder"
	"github.com/gateway-fm/pingthing/internal/watcher"
	"github.com/gateway-fm/pingthing/internal/wsfeed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("pinger stopped", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
	logger.Info("pinger stopped")
}

// run wires every component and blocks until ctx is done or one of them
// fails fatally.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	clock := mclock.System{}

	keypair, err := txbuilder.ParseKeypair(cfg.WalletKeypair)
	if err != nil {
		return fmt.Errorf("parse wallet keypair: %w", err)
	}
	builder, err := txbuilder.New(txbuilder.Config{Keypair: keypair})
	if err != nil {
		return fmt.Errorf("create transaction builder: %w", err)
	}

	commitment, err := geyser.ParseCommitment(string(cfg.Commitment))
	if err != nil {
		return err
	}

	rpcCfg := rpc.DefaultClientConfig(cfg.RPCEndpoint)
	rpcCfg.Logger = logger
	rpcClient := rpc.NewHTTPClient(rpcCfg)

	sendCfg := rpc.SendClientConfig(cfg.RPCEndpoint)
	sendCfg.Logger = logger
	sendClient := rpc.NewHTTPClient(sendCfg)

	target, useTLS := geyser.ParseEndpoint(cfg.GRPCEndpoint)
	geyserCfg := geyser.DefaultConfig()
	geyserCfg.Endpoint = target
	geyserCfg.UseTLS = useTLS
	geyserCfg.Token = cfg.GRPCToken
	grpcClient, err := geyser.Dial(geyserCfg)
	if err != nil {
		return fmt.Errorf("dial geyser: %w", err)
	}
	defer grpcClient.Close()

	var slotSource geyser.Subscriber = grpcClient
	if cfg.SlotSource == config.SlotSourceWebsocket {
		slotSource = wsfeed.New(cfg.WSEndpoint, nil)
	}

	var journal *storage.SQLiteStorage
	if cfg.DatabasePath != "" {
		journal, err = storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()
		logger.Info("initialized storage", slog.String("path", cfg.DatabasePath))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	feed := transport.NewWebSocketServer(logger)
	latency := metrics.NewLatencyStats()
	sinks, journals := buildReporting(cfg, reg, latency, feed, logger)
	if journal != nil {
		journals = append(journals, journal)
	}

	reconnect := watcher.Reconnector{
		Clock:       clock,
		Delay:       cfg.ReconnectDelay,
		MaxAttempts: cfg.MaxReconnects,
	}

	store := freshness.NewStore(clock)
	gate := freshness.NewGate(store, clock, freshness.GateConfig{
		MaxBlockRefAge: cfg.MaxBlockhashAge,
		MaxSlotAge:     cfg.MaxSlotAge,
		FatalAge:       cfg.FatalStaleness,
	})

	blockRefs := watcher.NewBlockRefWatcher(grpcClient, store.BlockRef, commitment, reconnect, logger.With(slog.String("component", "blockref")))
	slots := watcher.NewSlotWatcher(slotSource, store.Slot, reconnect, logger.With(slog.String("component", "slot")))

	muxCfg := subscription.Config{
		Subscriber: grpcClient,
		Commitment: commitment,
		Reconnect:  reconnect,
		Logger:     logger.With(slog.String("component", "multiplexer")),
	}
	if cfg.ConfirmationMode == config.ConfirmationWallet {
		muxCfg.Wallet = builder.Payer().String()
	}
	mux := subscription.New(muxCfg)

	engine := probe.New(probe.Config{
		Clock:         clock,
		Gate:          gate,
		Limiter:       ratelimit.New(clock, cfg.TxsPerMinute, time.Minute),
		Builder:       builder,
		Transport:     sender.New(sender.Config{Client: sendClient, Endpoint: cfg.SendEndpoint, Logger: logger}),
		Confirmations: mux,
		Sinks:         sinks,
		Journal:       journals,

		CycleTimeout:   cfg.ConfirmationTimeout,
		ResendInterval: cfg.ResendInterval,
		LoopSleep:      cfg.LoopSleep,
		UsePriorityFee: cfg.UsePriorityFee,
		FallbackFee:    cfg.PriorityFee,

		Name:       cfg.Name,
		Region:     cfg.Region,
		Commitment: cfg.Commitment,
		Store:      store,
		Logger:     logger.With(slog.String("component", "engine")),
	})

	srvCfg := transport.ServerConfig{
		API:      engine,
		Latency:  latency,
		Health:   rpcClient,
		Gatherer: reg,
		Feed:     feed,
		Logger:   logger,
	}
	if journal != nil {
		srvCfg.History = journal
	}
	server := transport.NewServer(srvCfg)

	logger.Info("starting pinger",
		slog.String("name", cfg.Name),
		slog.String("region", cfg.Region),
		slog.String("payer", builder.Payer().String()),
		slog.String("commitment", string(cfg.Commitment)),
		slog.String("slot_source", cfg.SlotSource),
		slog.String("confirmation_mode", cfg.ConfirmationMode),
		slog.Int("tx_per_minute", cfg.TxsPerMinute),
		slog.Bool("priority_fee", cfg.UsePriorityFee),
		slog.Int("sinks", len(sinks)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return component("blockref watcher", blockRefs.Run(gctx)) })
	g.Go(func() error { return component("slot watcher", slots.Run(gctx)) })
	if cfg.UsePriorityFee {
		fees := watcher.NewFeeWatcher(watcher.FeeWatcherConfig{
			Client:     rpcClient,
			Cell:       store.Fee,
			Clock:      clock,
			Percentile: cfg.FeePercentile,
			Logger:     logger.With(slog.String("component", "fee")),
		})
		g.Go(func() error { return component("fee watcher", fees.Run(gctx)) })
	}
	g.Go(func() error { return component("multiplexer", mux.Run(gctx)) })
	g.Go(func() error { return component("live feed", feed.Run(gctx)) })
	g.Go(func() error { return component("status server", server.ListenAndServe(gctx, cfg.ListenAddr)) })
	g.Go(func() error { return component("engine", engine.Run(gctx)) })

	return g.Wait()
}

// buildReporting returns the result sinks and cycle journals enabled by cfg.
func buildReporting(cfg *config.Config, reg prometheus.Registerer, latency *metrics.LatencyStats, feed *transport.WebSocketServer, logger *slog.Logger) ([]report.Sink, probe.Journals) {
	var (
		sinks    []report.Sink
		journals probe.Journals
	)

	if !cfg.SkipValidatorsApp {
		sinks = append(sinks, report.NewValidatorsApp(report.ValidatorsAppConfig{
			Endpoint:      cfg.ValidatorsURL,
			APIKey:        cfg.ValidatorsKey,
			Commitment:    cfg.Commitment,
			Region:        cfg.Region,
			FeePercentile: cfg.FeePercentile,
			Logger:        logger,
		}))
	}
	if !cfg.SkipPrometheus {
		sinks = append(sinks, metrics.NewPrometheusMetrics(reg, cfg.Name))
	}

	sinks = append(sinks, latency, feed)
	journals = append(journals, feed)
	return sinks, journals
}

// component treats cancellation as a clean stop and names the failing part.
func component(name string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
