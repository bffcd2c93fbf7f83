package freshness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
)

// Default gate thresholds.
const (
	DefaultMaxBlockRefAge = 30 * time.Second
	DefaultMaxSlotAge     = 500 * time.Millisecond
	DefaultFatalAge       = 10 * time.Second
	DefaultPollInterval   = time.Millisecond
)

// ErrStale means a required cell has not been refreshed within the fatal bound.
var ErrStale = errors.New("freshness: state is stale beyond the fatal bound")

// StaleError names the offending cell.
type StaleError struct {
	Cell  string
	Age   time.Duration
	Bound time.Duration
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("%v: %s age %v >= %v", ErrStale, e.Cell, e.Age, e.Bound)
}

func (e *StaleError) Unwrap() error { return ErrStale }

// GateConfig holds per-cell maximum ages.
type GateConfig struct {
	MaxBlockRefAge time.Duration
	MaxSlotAge     time.Duration
	FatalAge       time.Duration
	PollInterval   time.Duration
}

// DefaultGateConfig returns the default thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxBlockRefAge: DefaultMaxBlockRefAge,
		MaxSlotAge:     DefaultMaxSlotAge,
		FatalAge:       DefaultFatalAge,
		PollInterval:   DefaultPollInterval,
	}
}

// Snapshot is a consistent read of the store taken when the gate released.
type Snapshot struct {
	BlockRef    BlockRef
	HasBlockRef bool
	BlockRefAge time.Duration

	Slot    uint64
	HasSlot bool
	SlotAge time.Duration

	Fee    uint64
	HasFee bool
}

// Gate blocks probe launches until the block reference and slot are fresh.
type Gate struct {
	store *Store
	clock mclock.Clock
	cfg   GateConfig
}

// NewGate creates a gate over store. Zero thresholds take defaults.
func NewGate(store *Store, clock mclock.Clock, cfg GateConfig) *Gate {
	def := DefaultGateConfig()
	if cfg.MaxBlockRefAge <= 0 {
		cfg.MaxBlockRefAge = def.MaxBlockRefAge
	}
	if cfg.MaxSlotAge <= 0 {
		cfg.MaxSlotAge = def.MaxSlotAge
	}
	if cfg.FatalAge <= 0 {
		cfg.FatalAge = def.FatalAge
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if clock == nil {
		clock = mclock.System{}
	}
	return &Gate{store: store, clock: clock, cfg: cfg}
}

// Config returns the effective thresholds.
func (g *Gate) Config() GateConfig { return g.cfg }

// Check evaluates the gate once. It reports ready only if every required
// cell holds a value younger than its threshold. A required cell older than
// the fatal bound yields a *StaleError and no snapshot.
func (g *Gate) Check() (Snapshot, bool, error) {
	var s Snapshot
	s.BlockRef, s.HasBlockRef, s.BlockRefAge = g.store.BlockRef.Read()
	s.Slot, s.HasSlot, s.SlotAge = g.store.Slot.Read()

	if s.BlockRefAge >= g.cfg.FatalAge {
		return Snapshot{}, false, &StaleError{Cell: "blockhash", Age: s.BlockRefAge, Bound: g.cfg.FatalAge}
	}
	if s.SlotAge >= g.cfg.FatalAge {
		return Snapshot{}, false, &StaleError{Cell: "slot", Age: s.SlotAge, Bound: g.cfg.FatalAge}
	}

	if !s.HasBlockRef || s.BlockRefAge >= g.cfg.MaxBlockRefAge {
		return Snapshot{}, false, nil
	}
	if !s.HasSlot || s.SlotAge >= g.cfg.MaxSlotAge {
		return Snapshot{}, false, nil
	}

	s.Fee, s.HasFee, _ = g.store.Fee.Read()
	return s, true, nil
}

// Await polls Check until it releases, fails fatally, or ctx is done.
func (g *Gate) Await(ctx context.Context) (Snapshot, error) {
	for {
		s, ok, err := g.Check()
		if err != nil {
			return Snapshot{}, err
		}
		if ok {
			return s, nil
		}

		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-g.clock.After(g.cfg.PollInterval):
		}
	}
}
