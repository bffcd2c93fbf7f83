// Package types contains public API types for the pinger.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// CycleStatus is the terminal state of one probe cycle.
type CycleStatus string

const (
	CycleConfirmed CycleStatus = "confirmed" // Landed without error, reported
	CycleFailed    CycleStatus = "failed"    // Landed with a transaction error
	CycleTimedOut  CycleStatus = "timeout"   // No confirmation before the deadline
	CycleAnomaly   CycleStatus = "anomaly"   // Landed slot precedes sent slot, suppressed
	CycleSkipped   CycleStatus = "skipped"   // Never sent (missing state or build failure)
)

// Commitment is the Solana commitment level used for subscriptions and reports.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Valid reports whether c is one of the known commitment levels.
func (c Commitment) Valid() bool {
	switch c {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
		return true
	}
	return false
}

// ConfirmationEvent is emitted by the subscription multiplexer for every
// transaction update matching a registered filter.
type ConfirmationEvent struct {
	ProbeID    string `json:"probeId"`
	SlotLanded uint64 `json:"slotLanded"`
	Success    bool   `json:"success"`
}

// ProbeResult is what reporting sinks receive for a confirmed, successful probe.
type ProbeResult struct {
	Signature   string        `json:"signature"`
	TimeLatency time.Duration `json:"-"`
	TimeMs      int64         `json:"timeMs"`
	SlotLatency uint64        `json:"slotLatency"`
	SlotSent    uint64        `json:"slotSent"`
	SlotLanded  uint64        `json:"slotLanded"`
	PriorityFee uint64        `json:"priorityFee"`
	ConfirmedAt time.Time     `json:"confirmedAt"`
}

// CycleOutcome describes how a single cycle ended. Zero-valued slot and
// latency fields mean "not observed".
type CycleOutcome struct {
	Status      CycleStatus   `json:"status"`
	Signature   string        `json:"signature,omitempty"`
	SlotSent    uint64        `json:"slotSent,omitempty"`
	SlotLanded  uint64        `json:"slotLanded,omitempty"`
	PriorityFee uint64        `json:"priorityFee,omitempty"`
	Sends       int           `json:"sends"`
	TimeLatency time.Duration `json:"-"`
	TimeMs      int64         `json:"timeMs,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
	Reason      string        `json:"reason,omitempty"`
}

// CellStatus is a read-only view of one freshness cell.
type CellStatus struct {
	Name  string `json:"name"`
	Set   bool   `json:"set"`
	Value string `json:"value,omitempty"`
	AgeMs int64  `json:"ageMs"`
}

// CycleCounters are cumulative per-status cycle counts since process start.
type CycleCounters struct {
	Cycles    uint64 `json:"cycles"`
	Confirmed uint64 `json:"confirmed"`
	Failed    uint64 `json:"failed"`
	TimedOut  uint64 `json:"timedOut"`
	Anomalies uint64 `json:"anomalies"`
	Skipped   uint64 `json:"skipped"`
	Sends     uint64 `json:"sends"`
}

// PingerStatus is returned by GET /v1/status.
type PingerStatus struct {
	Name          string          `json:"name"`
	Region        string          `json:"region"`
	Commitment    Commitment      `json:"commitment"`
	Cells         []CellStatus    `json:"cells"`
	Pending       int             `json:"pending"`
	Tracked       int             `json:"tracked"`
	Filters       int             `json:"filters"`
	DroppedEvents uint64          `json:"droppedEvents"`
	WindowUsed    int             `json:"windowUsed"`
	WindowCap     int             `json:"windowCap"`
	Counters      CycleCounters   `json:"counters"`
	LastOutcome   *CycleOutcome   `json:"lastOutcome,omitempty"`
	Latency       *LatencySummary `json:"latency,omitempty"`
	UptimeSeconds float64         `json:"uptimeSeconds"`
}

// LatencySummary aggregates confirmed probes since process start.
type LatencySummary struct {
	Count    int64   `json:"count"`
	MinMs    float64 `json:"minMs"`
	MaxMs    float64 `json:"maxMs"`
	AvgMs    float64 `json:"avgMs"`
	P50Ms    float64 `json:"p50Ms"`
	P90Ms    float64 `json:"p90Ms"`
	P99Ms    float64 `json:"p99Ms"`
	AvgSlots float64 `json:"avgSlots"`
	MaxSlots uint64  `json:"maxSlots"`
}
