// Package metrics exports connection recovery telemetry to Prometheus.
package metrics

import (
	"context"
	"errors"

	"github.com/orchestra-mcp/liveconn/src/recovery"
	"github.com/orchestra-mcp/liveconn/src/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "liveconn"
)

// Failure kinds used as the "kind" label of FailuresTotal.
const (
	KindTransport = "transport"
	KindProbe     = "probe"
	KindForced    = "forced"
)

var statuses = []types.Status{
	types.StatusDisconnected,
	types.StatusConnecting,
	types.StatusConnected,
	types.StatusReconnecting,
	types.StatusFailed,
}

// Metrics holds the collectors for one controller.
type Metrics struct {
	// ReconnectAttempts counts scheduled reconnection attempts
	ReconnectAttempts prometheus.Counter

	// ReconnectSuccesses counts completed reconnection sequences
	ReconnectSuccesses prometheus.Counter

	// Exhaustions counts transitions into the failed state
	Exhaustions prometheus.Counter

	// FailuresTotal counts reported failures by kind
	FailuresTotal *prometheus.CounterVec

	// Status is 1 for the current status label and 0 for the others
	Status *prometheus.GaugeVec

	// Quality is the quality rank, 0 critical to 3 excellent
	Quality prometheus.Gauge

	// RTT observes heartbeat round trips in seconds
	RTT prometheus.Histogram

	// PacketLoss is the last packet loss ratio
	PacketLoss prometheus.Gauge
}

// New creates and registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnection attempts",
		}),
		ReconnectSuccesses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_successes_total",
			Help:      "Total number of successful reconnection sequences",
		}),
		Exhaustions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_exhausted_total",
			Help:      "Total number of times reconnection attempts ran out",
		}),
		FailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_failures_total",
				Help:      "Total number of reported connection failures",
			},
			[]string{"kind"}, // transport/probe/forced
		),
		Status: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_status",
				Help:      "Current connection status (1 for the active status)",
			},
			[]string{"status"},
		),
		Quality: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_quality",
			Help:      "Connection quality rank (0 critical, 3 excellent)",
		}),
		RTT: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "heartbeat_rtt_seconds",
			Help:      "Heartbeat round trip time in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .2, .4, .8, 1.6},
		}),
		PacketLoss: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "packet_loss_ratio",
			Help:      "Last reported packet loss ratio",
		}),
	}
}

// Observe subscribes the collectors to c and returns a function that
// unsubscribes them.
func (m *Metrics) Observe(c *recovery.Controller) func() {
	m.setStatus(c.ConnectionState().Status)

	refresh := func(context.Context, types.Event) error {
		m.setStatus(c.ConnectionState().Status)
		return nil
	}
	offs := []func(){
		c.On(types.EventConnectionFailed, func(ctx context.Context, ev types.Event) error {
			m.FailuresTotal.WithLabelValues(failureKind(ev.Err)).Inc()
			return refresh(ctx, ev)
		}),
		c.On(types.EventReconnectionAttempt, func(ctx context.Context, ev types.Event) error {
			m.ReconnectAttempts.Inc()
			return refresh(ctx, ev)
		}),
		c.On(types.EventReconnectionSuccess, func(ctx context.Context, ev types.Event) error {
			m.ReconnectSuccesses.Inc()
			return refresh(ctx, ev)
		}),
		c.On(types.EventReconnectionFailed, func(ctx context.Context, ev types.Event) error {
			m.Exhaustions.Inc()
			return refresh(ctx, ev)
		}),
		c.On(types.EventConnectionEstablished, refresh),
		c.On(types.EventQualityUpdate, func(_ context.Context, ev types.Event) error {
			m.Quality.Set(float64(ev.Quality.Rank()))
			m.RTT.Observe(ev.RTT.Seconds())
			m.PacketLoss.Set(ev.PacketLoss)
			return nil
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (m *Metrics) setStatus(current types.Status) {
	for _, s := range statuses {
		v := 0.0
		if s == current {
			v = 1
		}
		m.Status.WithLabelValues(string(s)).Set(v)
	}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, recovery.ErrForcedReconnect):
		return KindForced
	case errors.Is(err, recovery.ErrProbeFailed):
		return KindProbe
	default:
		return KindTransport
	}
}
