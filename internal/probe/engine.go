// Package probe runs the probe cycle: wait for fresh state, send a canary
// transaction, resend until it is confirmed or the deadline passes, report.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"

	"github.com/gateway-fm/pingthing/internal/freshness"
	"github.com/gateway-fm/pingthing/internal/ratelimit"
	"github.com/gateway-fm/pingthing/internal/report"
	"github.com/gateway-fm/pingthing/internal/sender"
	"github.com/gateway-fm/pingthing/internal/txbuilder"
	"github.com/gateway-fm/pingthing/pkg/types"
)

// Engine defaults.
const (
	DefaultCycleTimeout   = 20 * time.Second
	DefaultResendInterval = 2 * time.Second
	DefaultFallbackFee    = 5000
)

// Confirmations is the engine's view of the subscription multiplexer.
type Confirmations interface {
	Register(id string)
	Unregister(id string)
	Events() <-chan types.ConfirmationEvent
}

// Journal persists every cycle outcome.
type Journal interface {
	RecordCycle(ctx context.Context, outcome types.CycleOutcome) error
}

// Journals records each cycle in every member and joins their errors.
type Journals []Journal

func (js Journals) RecordCycle(ctx context.Context, outcome types.CycleOutcome) error {
	var errs []error
	for _, j := range js {
		if err := j.RecordCycle(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config for creating an Engine.
type Config struct {
	Clock         mclock.Clock
	Now           func() time.Time // wall clock for timestamps (default: time.Now)
	Gate          *freshness.Gate
	Limiter       *ratelimit.Window
	Builder       txbuilder.Builder
	Transport     sender.Transport
	Confirmations Confirmations
	Sinks         []report.Sink
	Journal       Journal // optional

	CycleTimeout   time.Duration // default 20s
	ResendInterval time.Duration // default 2s
	LoopSleep      time.Duration
	UsePriorityFee bool
	FallbackFee    uint64 // used when the fee cell is empty

	// Status identity.
	Name       string
	Region     string
	Commitment types.Commitment
	Store      *freshness.Store

	Logger *slog.Logger
}

// Engine runs probe cycles strictly one after another.
type Engine struct {
	clock         mclock.Clock
	now           func() time.Time
	gate          *freshness.Gate
	limiter       *ratelimit.Window
	builder       txbuilder.Builder
	transport     sender.Transport
	confirmations Confirmations
	sinks         []report.Sink
	journal       Journal

	cycleTimeout   time.Duration
	resendInterval time.Duration
	loopSleep      time.Duration
	usePriorityFee bool
	fallbackFee    uint64

	name       string
	region     string
	commitment types.Commitment
	store      *freshness.Store
	startedAt  time.Time

	pending *PendingSet

	cycles    atomic.Uint64
	confirmed atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
	anomalies atomic.Uint64
	skipped   atomic.Uint64
	sends     atomic.Uint64
	last      atomic.Pointer[types.CycleOutcome]

	logger *slog.Logger
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = mclock.System{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = DefaultResendInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		clock:          cfg.Clock,
		now:            cfg.Now,
		gate:           cfg.Gate,
		limiter:        cfg.Limiter,
		builder:        cfg.Builder,
		transport:      cfg.Transport,
		confirmations:  cfg.Confirmations,
		sinks:          cfg.Sinks,
		journal:        cfg.Journal,
		cycleTimeout:   cfg.CycleTimeout,
		resendInterval: cfg.ResendInterval,
		loopSleep:      cfg.LoopSleep,
		usePriorityFee: cfg.UsePriorityFee,
		fallbackFee:    cfg.FallbackFee,
		name:           cfg.Name,
		region:         cfg.Region,
		commitment:     cfg.Commitment,
		store:          cfg.Store,
		startedAt:      cfg.Now(),
		pending:        NewPendingSet(),
		logger:         cfg.Logger,
	}
}

// Pending exposes the in-flight set.
func (e *Engine) Pending() *PendingSet { return e.pending }

// Run loops until ctx is done or a fatal error occurs. Each iteration sleeps
// the configured pause, waits for the rate limiter and runs one cycle.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if e.loopSleep > 0 {
			e.logger.Debug("sleeping before next cycle", slog.Duration("sleep", e.loopSleep))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.clock.After(e.loopSleep):
			}
		}

		if d := e.limiter.Delay(); d > 0 {
			e.logger.Info("send budget exhausted, waiting for window",
				slog.Duration("wait", d),
				slog.Int("cap", e.limiter.Cap()),
			)
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}

		out, err := e.RunCycle(ctx)
		if err != nil {
			return err
		}

		// Skipped cycles do not use the send window, so pace them here.
		if out.Status == types.CycleSkipped {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.clock.After(e.resendInterval):
			}
		}
	}
}

// RunCycle runs one probe cycle. The returned error is non-nil only for fatal
// staleness or context cancellation; every other failure is an outcome.
func (e *Engine) RunCycle(ctx context.Context) (types.CycleOutcome, error) {
	out := types.CycleOutcome{StartedAt: e.now()}

	snap, err := e.gate.Await(ctx)
	if err != nil {
		if errors.Is(err, freshness.ErrStale) {
			e.logger.Error("network state is stale, stopping", slog.Any("error", err))
		}
		return out, err
	}
	// The gate only releases snapshots holding both a block ref and a slot.

	fee := uint64(0)
	if e.usePriorityFee {
		fee = e.fallbackFee
		if snap.HasFee {
			fee = snap.Fee
		}
	}

	probe, err := e.builder.Build(snap.BlockRef, fee)
	if err != nil {
		out.Status = types.CycleSkipped
		out.Reason = fmt.Sprintf("build: %v", err)
		return e.finish(ctx, out), nil
	}

	out.Signature = probe.ID
	out.SlotSent = snap.Slot
	out.PriorityFee = fee

	sendTime := e.clock.Now()
	e.dispatch(ctx, probe, &out)
	e.limiter.Record()

	e.pending.Add(PendingProbe{ID: probe.ID, SlotSent: snap.Slot, SendTime: sendTime, Fee: fee})
	e.confirmations.Register(probe.ID)
	defer func() {
		e.pending.Remove(probe.ID)
		e.confirmations.Unregister(probe.ID)
	}()

	ev, confirmed, err := e.await(ctx, probe, &out)
	if err != nil {
		return out, err
	}

	if !confirmed {
		out.Status = types.CycleTimedOut
		out.Reason = fmt.Sprintf("no confirmation within %v", e.cycleTimeout)
		return e.finish(ctx, out), nil
	}

	sent, ok := e.pending.Get(probe.ID)
	if !ok {
		sent = PendingProbe{ID: probe.ID, SlotSent: snap.Slot, SendTime: sendTime, Fee: fee}
	}
	latency := e.clock.Now().Sub(sent.SendTime)
	out.SlotLanded = ev.SlotLanded
	out.TimeLatency = latency
	out.TimeMs = latency.Milliseconds()

	switch {
	case !ev.Success:
		out.Status = types.CycleFailed
		out.Reason = "transaction landed with an error"
	case ev.SlotLanded < sent.SlotSent:
		out.Status = types.CycleAnomaly
		out.Reason = fmt.Sprintf("landed slot %d precedes sent slot %d", ev.SlotLanded, sent.SlotSent)
	default:
		out.Status = types.CycleConfirmed
	}

	out = e.finish(ctx, out)
	if out.Status == types.CycleConfirmed {
		e.report(ctx, types.ProbeResult{
			Signature:   probe.ID,
			TimeLatency: latency,
			TimeMs:      latency.Milliseconds(),
			SlotLatency: ev.SlotLanded - sent.SlotSent,
			SlotSent:    sent.SlotSent,
			SlotLanded:  ev.SlotLanded,
			PriorityFee: sent.Fee,
			ConfirmedAt: out.FinishedAt,
		})
	}
	return out, nil
}

// await waits for the probe's confirmation, resending on every tick.
func (e *Engine) await(ctx context.Context, probe *txbuilder.Probe, out *types.CycleOutcome) (types.ConfirmationEvent, bool, error) {
	deadline := e.clock.NewTimer(e.cycleTimeout)
	defer deadline.Stop()

	resend := e.clock.NewTimer(e.resendInterval)
	defer func() { resend.Stop() }()

	events := e.confirmations.Events()
	for {
		select {
		case <-ctx.Done():
			return types.ConfirmationEvent{}, false, ctx.Err()

		case <-deadline.C():
			return types.ConfirmationEvent{}, false, nil

		case <-resend.C():
			e.dispatch(ctx, probe, out)
			resend = e.clock.NewTimer(e.resendInterval)

		case ev, ok := <-events:
			if !ok {
				e.logger.Warn("confirmation stream closed, waiting out the deadline",
					slog.String("signature", probe.ID),
				)
				events = nil
				continue
			}
			if ev.ProbeID != probe.ID {
				e.logger.Debug("discarding confirmation for another probe",
					slog.String("got", ev.ProbeID),
					slog.String("want", probe.ID),
				)
				continue
			}
			return ev, true, nil
		}
	}
}

// dispatch sends the probe once. Send errors are logged; the cycle carries on.
func (e *Engine) dispatch(ctx context.Context, probe *txbuilder.Probe, out *types.CycleOutcome) {
	out.Sends++
	e.sends.Add(1)

	if err := e.transport.Send(ctx, probe); err != nil {
		e.logger.Warn("send failed",
			slog.String("signature", probe.ID),
			slog.String("transport", e.transport.Name()),
			slog.Int("attempt", out.Sends),
			slog.Any("error", err),
		)
		return
	}
	e.logger.Debug("probe sent",
		slog.String("signature", probe.ID),
		slog.Int("attempt", out.Sends),
	)
}

// finish stamps the outcome, logs it, updates counters and journals it.
func (e *Engine) finish(ctx context.Context, out types.CycleOutcome) types.CycleOutcome {
	out.FinishedAt = e.now()

	e.cycles.Add(1)
	attrs := []any{
		slog.String("status", string(out.Status)),
		slog.String("signature", out.Signature),
		slog.Uint64("slotSent", out.SlotSent),
		slog.Int("sends", out.Sends),
	}

	switch out.Status {
	case types.CycleConfirmed:
		e.confirmed.Add(1)
		e.logger.Info("probe confirmed", append(attrs,
			slog.Int64("timeMs", out.TimeMs),
			slog.Uint64("slotLanded", out.SlotLanded),
			slog.Uint64("slotLatency", out.SlotLanded-out.SlotSent),
			slog.Uint64("priorityFee", out.PriorityFee),
		)...)
	case types.CycleFailed:
		e.failed.Add(1)
		e.logger.Warn("probe failed", append(attrs, slog.Uint64("slotLanded", out.SlotLanded))...)
	case types.CycleTimedOut:
		e.timedOut.Add(1)
		e.logger.Warn("probe timed out", append(attrs, slog.String("reason", out.Reason))...)
	case types.CycleAnomaly:
		e.anomalies.Add(1)
		e.logger.Error("probe landed before it was sent, not reporting", append(attrs,
			slog.Uint64("slotLanded", out.SlotLanded),
		)...)
	case types.CycleSkipped:
		e.skipped.Add(1)
		e.logger.Warn("skipping cycle", slog.String("reason", out.Reason))
	}

	stored := out
	e.last.Store(&stored)

	if e.journal != nil {
		if err := e.journal.RecordCycle(context.WithoutCancel(ctx), out); err != nil {
			e.logger.Warn("failed to journal cycle", slog.Any("error", err))
		}
	}
	return out
}

func (e *Engine) report(ctx context.Context, result types.ProbeResult) {
	for _, sink := range e.sinks {
		if err := sink.Report(ctx, result); err != nil {
			e.logger.Warn("report failed",
				slog.String("sink", sink.Name()),
				slog.String("signature", result.Signature),
				slog.Any("error", err),
			)
		}
	}
}

// Counters returns cumulative cycle counts.
func (e *Engine) Counters() types.CycleCounters {
	return types.CycleCounters{
		Cycles:    e.cycles.Load(),
		Confirmed: e.confirmed.Load(),
		Failed:    e.failed.Load(),
		TimedOut:  e.timedOut.Load(),
		Anomalies: e.anomalies.Load(),
		Skipped:   e.skipped.Load(),
		Sends:     e.sends.Load(),
	}
}

// LastOutcome returns the most recent outcome, or nil before the first cycle.
func (e *Engine) LastOutcome() *types.CycleOutcome {
	if p := e.last.Load(); p != nil {
		out := *p
		return &out
	}
	return nil
}

// Status assembles the read-only view served by the status API.
func (e *Engine) Status() types.PingerStatus {
	st := types.PingerStatus{
		Name:          e.name,
		Region:        e.region,
		Commitment:    e.commitment,
		Pending:       e.pending.Len(),
		WindowUsed:    e.limiter.Used(),
		WindowCap:     e.limiter.Cap(),
		Counters:      e.Counters(),
		LastOutcome:   e.LastOutcome(),
		UptimeSeconds: e.now().Sub(e.startedAt).Seconds(),
	}
	if e.store != nil {
		st.Cells = e.store.Status()
	}
	if f, ok := e.confirmations.(interface{ Filters() int }); ok {
		st.Filters = f.Filters()
	}
	if t, ok := e.confirmations.(interface{ Tracked() int }); ok {
		st.Tracked = t.Tracked()
	}
	if d, ok := e.confirmations.(interface{ Dropped() uint64 }); ok {
		st.DroppedEvents = d.Dropped()
	}
	return st
}

// Ready reports whether the gate would release a probe right now.
func (e *Engine) Ready() (bool, error) {
	_, ok, err := e.gate.Check()
	return ok, err
}
