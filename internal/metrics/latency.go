package metrics

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/gateway-fm/pingthing/pkg/types"
)

// DefaultReservoirSize is the number of samples kept for percentile estimation.
const DefaultReservoirSize = 2048

// LatencyStats keeps streaming statistics over confirmed probes: exact
// count/min/max/mean and reservoir-sampled percentiles.
type LatencyStats struct {
	mu sync.RWMutex

	count   int64
	sumMs   float64
	minMs   float64
	maxMs   float64
	sumSlot uint64
	maxSlot uint64

	// Algorithm R over time latency, O(reservoirSize) memory.
	reservoir     []float64
	reservoirSize int

	// xorshift64* state, per instance
	randState uint64
}

// NewLatencyStats creates an empty collector.
func NewLatencyStats() *LatencyStats {
	return NewLatencyStatsSize(DefaultReservoirSize)
}

// NewLatencyStatsSize creates a collector with the given reservoir size.
func NewLatencyStatsSize(size int) *LatencyStats {
	if size <= 0 {
		size = DefaultReservoirSize
	}
	return &LatencyStats{
		minMs:         math.MaxFloat64,
		reservoir:     make([]float64, 0, size),
		reservoirSize: size,
		randState:     1,
	}
}

// Name implements report.Sink.
func (s *LatencyStats) Name() string { return "latency-stats" }

// Report records one confirmed probe.
func (s *LatencyStats) Report(_ context.Context, r types.ProbeResult) error {
	s.Add(float64(r.TimeMs), r.SlotLatency)
	return nil
}

// Add records a sample.
func (s *LatencyStats) Add(latencyMs float64, slots uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sumMs += latencyMs
	s.sumSlot += slots
	s.minMs = math.Min(s.minMs, latencyMs)
	s.maxMs = math.Max(s.maxMs, latencyMs)
	if slots > s.maxSlot {
		s.maxSlot = slots
	}

	if len(s.reservoir) < s.reservoirSize {
		s.reservoir = append(s.reservoir, latencyMs)
		return
	}
	if j := s.fastRand() % uint64(s.count); j < uint64(s.reservoirSize) {
		s.reservoir[j] = latencyMs
	}
}

func (s *LatencyStats) fastRand() uint64 {
	s.randState ^= s.randState >> 12
	s.randState ^= s.randState << 25
	s.randState ^= s.randState >> 27
	return s.randState * 0x2545F4914F6CDD1D
}

// Summary returns the current statistics, or nil before the first sample.
func (s *LatencyStats) Summary() *types.LatencySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	sorted := make([]float64, len(s.reservoir))
	copy(sorted, s.reservoir)
	sort.Float64s(sorted)

	return &types.LatencySummary{
		Count:    s.count,
		MinMs:    s.minMs,
		MaxMs:    s.maxMs,
		AvgMs:    s.sumMs / float64(s.count),
		P50Ms:    percentile(sorted, 0.50),
		P90Ms:    percentile(sorted, 0.90),
		P99Ms:    percentile(sorted, 0.99),
		AvgSlots: float64(s.sumSlot) / float64(s.count),
		MaxSlots: s.maxSlot,
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
