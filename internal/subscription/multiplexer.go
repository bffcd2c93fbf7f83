// Package subscription multiplexes confirmation interest for in-flight probes
// onto a single change-feed stream.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mr-tron/base58"

	"github.com/gateway-fm/pingthing/internal/geyser"
	"github.com/gateway-fm/pingthing/internal/watcher"
	"github.com/gateway-fm/pingthing/pkg/types"
)

// DefaultEventBuffer is the size of the confirmation event buffer.
const DefaultEventBuffer = 100

// Filter names.
const (
	probeFilterPrefix = "probe-"
	walletFilter      = "wallet"
)

// Config for creating a Multiplexer.
type Config struct {
	Subscriber geyser.Subscriber
	Commitment geyser.CommitmentLevel

	// Wallet switches to wallet-wide mode: one filter on this address
	// replaces the per-probe signature filters.
	Wallet string

	Reconnect   watcher.Reconnector
	EventBuffer int // default 100
	Logger      *slog.Logger
}

// Multiplexer owns one Subscribe stream. Register and Unregister update the
// filter set; a writer goroutine pushes the full set to the server after every
// change since each request replaces the previous one.
type Multiplexer struct {
	sub        geyser.Subscriber
	commitment geyser.CommitmentLevel
	wallet     string
	reconnect  watcher.Reconnector
	logger     *slog.Logger

	mu      sync.Mutex
	tracked map[string]struct{}
	changed chan struct{}

	events  chan types.ConfirmationEvent
	dropped atomic.Uint64
}

// New creates a Multiplexer. Run must be called once to open the stream.
func New(cfg Config) *Multiplexer {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Reconnect.Name = "multiplexer"
	cfg.Reconnect.Logger = cfg.Logger

	return &Multiplexer{
		sub:        cfg.Subscriber,
		commitment: cfg.Commitment,
		wallet:     cfg.Wallet,
		reconnect:  cfg.Reconnect,
		logger:     cfg.Logger,
		tracked:    make(map[string]struct{}),
		changed:    make(chan struct{}, 1),
		events:     make(chan types.ConfirmationEvent, cfg.EventBuffer),
	}
}

// Register adds interest in probe id.
func (m *Multiplexer) Register(id string) {
	m.mu.Lock()
	m.tracked[id] = struct{}{}
	m.mu.Unlock()

	if m.wallet == "" {
		m.notify()
	}
}

// Unregister drops interest in probe id.
func (m *Multiplexer) Unregister(id string) {
	m.mu.Lock()
	_, ok := m.tracked[id]
	delete(m.tracked, id)
	m.mu.Unlock()

	if ok && m.wallet == "" {
		m.notify()
	}
}

// Events returns confirmation events. The channel is closed when Run returns.
func (m *Multiplexer) Events() <-chan types.ConfirmationEvent {
	return m.events
}

// Tracked returns the number of registered probe ids.
func (m *Multiplexer) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// Filters returns the number of transaction filters currently requested.
func (m *Multiplexer) Filters() int {
	return len(m.request().Transactions)
}

// Dropped returns how many events were discarded because the buffer was full.
func (m *Multiplexer) Dropped() uint64 {
	return m.dropped.Load()
}

// Run keeps the stream open until ctx is done or reconnects are exhausted.
// Each new stream is subscribed with the preserved filter set.
func (m *Multiplexer) Run(ctx context.Context) error {
	defer close(m.events)
	return m.reconnect.Run(ctx, m.session)
}

func (m *Multiplexer) notify() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

func (m *Multiplexer) request() *geyser.SubscribeRequest {
	commitment := m.commitment
	req := &geyser.SubscribeRequest{
		Transactions: make(map[string]geyser.TransactionsFilter),
		Commitment:   &commitment,
	}

	if m.wallet != "" {
		req.Transactions[walletFilter] = geyser.TransactionsFilter{
			Vote:            geyser.BoolPtr(false),
			AccountInclude:  []string{m.wallet},
			AccountRequired: []string{m.wallet},
		}
		return req
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.tracked {
		req.Transactions[probeFilterPrefix+id] = geyser.TransactionsFilter{
			Vote:      geyser.BoolPtr(false),
			Signature: id,
		}
	}
	return req
}

func (m *Multiplexer) session(ctx context.Context, delivered func()) error {
	ctx, cancel := context.WithCancel(ctx)

	stream, err := m.sub.Subscribe(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}
	defer stream.CloseSend()

	if err := stream.Send(m.request()); err != nil {
		cancel()
		return fmt.Errorf("send subscribe request: %w", err)
	}

	pings := make(chan struct{}, 1)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		m.writeLoop(ctx, cancel, stream, pings)
	}()
	defer func() {
		cancel()
		<-writerDone
	}()

	for {
		update, err := stream.Recv()
		if err != nil {
			if errors.Is(err, geyser.ErrDecode) {
				m.logger.Warn("skipping undecodable update", slog.Any("error", err))
				continue
			}
			return err
		}
		delivered()

		switch {
		case update.Ping:
			select {
			case pings <- struct{}{}:
			default:
			}
		case update.Transaction != nil:
			m.dispatch(update.Transaction)
		}
	}
}

// writeLoop is the only sender on stream once the session is running.
func (m *Multiplexer) writeLoop(ctx context.Context, cancel context.CancelFunc, stream geyser.Stream, pings <-chan struct{}) {
	for {
		var req *geyser.SubscribeRequest
		select {
		case <-ctx.Done():
			return
		case <-m.changed:
			req = m.request()
			m.logger.Debug("updating subscription filters",
				slog.Int("filters", len(req.Transactions)),
				slog.Any("names", filterNames(req)),
			)
		case <-pings:
			req = m.request().WithPing(1)
		}

		if err := stream.Send(req); err != nil {
			m.logger.Warn("subscription write failed", slog.Any("error", err))
			cancel()
			return
		}
	}
}

func (m *Multiplexer) dispatch(tx *geyser.TransactionUpdate) {
	ev := types.ConfirmationEvent{
		ProbeID:    base58.Encode(tx.Signature),
		SlotLanded: tx.Slot,
		Success:    tx.Succeeded(),
	}

	select {
	case m.events <- ev:
		return
	default:
	}

	// Full: drop the oldest so the reader never stalls.
	select {
	case old := <-m.events:
		m.dropped.Add(1)
		m.logger.Warn("confirmation buffer full, dropped oldest event",
			slog.String("dropped", old.ProbeID),
		)
	default:
	}
	select {
	case m.events <- ev:
	default:
	}
}

func filterNames(req *geyser.SubscribeRequest) []string {
	names := make([]string, 0, len(req.Transactions))
	for name := range req.Transactions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
