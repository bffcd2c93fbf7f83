// Package metrics exports probe results as Prometheus metrics and keeps
// in-process latency statistics for the status API.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/pingthing/pkg/types"
)

// PrometheusMetrics holds all Prometheus metrics for the pinger.
type PrometheusMetrics struct {
	name string

	ConfirmationLatency *prometheus.HistogramVec
	SlotLatency         *prometheus.HistogramVec
}

// ConfirmationLatencyBuckets are in milliseconds: 50ms steps to 1s, 100ms
// steps to 2s, then 200ms steps to 10s.
func ConfirmationLatencyBuckets() []float64 {
	buckets := make([]float64, 0, 71)
	for ms := 0; ms <= 1000; ms += 50 {
		buckets = append(buckets, float64(ms))
	}
	for ms := 1100; ms <= 2000; ms += 100 {
		buckets = append(buckets, float64(ms))
	}
	for ms := 2200; ms <= 10000; ms += 200 {
		buckets = append(buckets, float64(ms))
	}
	return buckets
}

// SlotLatencyBuckets are 1..30 slots.
func SlotLatencyBuckets() []float64 {
	return prometheus.LinearBuckets(1, 1, 30)
}

// NewPrometheusMetrics creates and registers all metrics. Every series carries
// the pinger_name label set to name.
func NewPrometheusMetrics(reg prometheus.Registerer, name string) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		name: name,

		ConfirmationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ping_thing_client_confirmation_latency",
				Help:    "Probe confirmation latency in milliseconds",
				Buckets: ConfirmationLatencyBuckets(),
			},
			[]string{"pinger_name"},
		),

		SlotLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ping_thing_client_slot_latency",
				Help:    "Slots between send and landing",
				Buckets: SlotLatencyBuckets(),
			},
			[]string{"pinger_name"},
		),
	}
}

// Name implements report.Sink.
func (m *PrometheusMetrics) Name() string { return "prometheus" }

// Report observes a confirmed probe. Only confirmed results reach this sink;
// failed, timed-out and anomalous cycles leave every series untouched.
func (m *PrometheusMetrics) Report(_ context.Context, r types.ProbeResult) error {
	m.ConfirmationLatency.WithLabelValues(m.name).Observe(float64(r.TimeMs))
	m.SlotLatency.WithLabelValues(m.name).Observe(float64(r.SlotLatency))
	return nil
}
