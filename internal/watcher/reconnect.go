// Package watcher keeps the freshness cells up to date from the change feed
// and the RPC node.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"

	"github.com/gateway-fm/pingthing/internal/geyser"
)

// Reconnect defaults.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultMaxReconnects  = 10
)

// ErrReconnectsExhausted is returned once a source has failed more
// consecutive times than the reconnect ceiling allows.
var ErrReconnectsExhausted = errors.New("reconnect attempts exhausted")

// Reconnector restarts a session after a fixed delay. Consecutive failures are
// counted; the count resets whenever a session delivers a message.
type Reconnector struct {
	Name        string
	Clock       mclock.Clock
	Delay       time.Duration
	MaxAttempts int // 0 = unlimited
	Logger      *slog.Logger
}

// Session is one connection attempt. It calls delivered for every message
// received and returns when the connection ends.
type Session func(ctx context.Context, delivered func()) error

// Run calls session until ctx is done or the reconnect ceiling is exceeded.
func (r *Reconnector) Run(ctx context.Context, session Session) error {
	clock := r.Clock
	if clock == nil {
		clock = mclock.System{}
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := r.Delay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}

	var (
		failures  int
		delivered atomic.Bool
	)
	markDelivered := func() { delivered.Store(true) }

	for {
		delivered.Store(false)
		err := session(ctx, markDelivered)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if delivered.Load() {
			failures = 0
		}
		failures++

		if r.MaxAttempts > 0 && failures > r.MaxAttempts {
			return fmt.Errorf("%s: %w after %d attempts: %v", r.Name, ErrReconnectsExhausted, r.MaxAttempts, err)
		}

		logger.Warn("stream ended, reconnecting",
			slog.String("source", r.Name),
			slog.Int("attempt", failures),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(delay):
		}
	}
}

// streamSession subscribes, sends req, answers server pings and passes every
// other update to handle. Decode errors are logged and skipped.
func streamSession(sub geyser.Subscriber, req *geyser.SubscribeRequest, logger *slog.Logger, handle func(*geyser.Update)) Session {
	return func(ctx context.Context, delivered func()) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := sub.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		defer stream.CloseSend()

		if err := stream.Send(req); err != nil {
			return fmt.Errorf("send subscribe request: %w", err)
		}

		for {
			update, err := stream.Recv()
			if err != nil {
				if errors.Is(err, geyser.ErrDecode) {
					logger.Warn("skipping undecodable update", slog.Any("error", err))
					continue
				}
				return err
			}
			delivered()

			switch {
			case update.Ping:
				if err := stream.Send(req.WithPing(1)); err != nil {
					return fmt.Errorf("answer ping: %w", err)
				}
			case update.Pong != nil:
			default:
				handle(update)
			}
		}
	}
}
