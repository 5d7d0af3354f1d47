package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions        prometheus.Gauge
	Operations            *prometheus.CounterVec
	Compactions           prometheus.Counter
	Evictions             prometheus.Counter
	Redactions            *prometheus.CounterVec
	SerializationFailures prometheus.Counter
	SummarizeFailures     prometheus.Counter
	BreakerState          prometheus.Gauge
	OpLatency             *prometheus.HistogramVec

	window *opLatencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently tracked in process.",
		}),
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Store operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		Compactions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Buffer compactions merged into the rolling summary.",
		}),
		Evictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_messages_total",
			Help:      "Messages evicted from buffers to enforce hard bounds.",
		}),
		Redactions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pii_detections_total",
			Help:      "PII detections by entity type and pipeline layer.",
		}, []string{"entity_type", "layer"}),
		SerializationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serialization_failures_total",
			Help:      "Stored entries that failed to decode.",
		}),
		SummarizeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarize_failures_total",
			Help:      "Compaction cycles skipped because summarization failed.",
		}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fast_tier_breaker_state",
			Help:      "Fast-tier circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
		OpLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "op_latency_ms",
			Help:      "Store and pipeline operation latency in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 20000},
		}, []string{"op"}),
		window: newOpLatencyWindow(256),
	}
}

// ObserveOp records one operation's latency and outcome on both the
// Prometheus histogram and the in-process percentile window.
func (m *Metrics) ObserveOp(op string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "degraded"
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	ms := float64(d.Microseconds()) / 1000
	m.OpLatency.WithLabelValues(op).Observe(ms)
	m.window.Observe(op, ms)
}

// ObserveIndicator bumps a named occurrence counter on the window.
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.window.ObserveIndicator(name)
}

// SetBreakerState maps the breaker state onto the gauge.
func (m *Metrics) SetBreakerState(state string) {
	if m == nil {
		return
	}
	switch state {
	case "open":
		m.BreakerState.Set(2)
	case "half_open":
		m.BreakerState.Set(1)
	default:
		m.BreakerState.Set(0)
	}
}

// SnapshotOpLatency returns the percentile view for the stats API.
func (m *Metrics) SnapshotOpLatency() OpLatencySnapshot {
	if m == nil {
		return OpLatencySnapshot{}
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
