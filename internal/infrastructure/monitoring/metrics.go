package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Envelope directions for the envelope counter.
const (
	DirInbound  = "inbound"
	DirOutbound = "outbound"
)

// Admission rejection reasons.
const (
	ReasonRateLimited = "rate_limited"
	ReasonAuth        = "auth_rejected"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Transport metrics
	Connections       prometheus.Gauge
	Envelopes         *prometheus.CounterVec
	EnvelopesDropped  *prometheus.CounterVec
	AdmissionRejected *prometheus.CounterVec
	SweepEvictions    prometheus.Counter

	startTime time.Time
}

// NewMetrics creates a metrics collector registered on its own registry.
// A dedicated registry keeps tests free of duplicate-registration panics.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		Connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatgate_ws_connections",
				Help: "Number of live WebSocket connections",
			},
		),
		Envelopes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatgate_ws_envelopes_total",
				Help: "Total envelopes by kind and direction",
			},
			[]string{"kind", "direction"},
		),
		EnvelopesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatgate_ws_envelopes_dropped_total",
				Help: "Envelopes dropped by reason (malformed, unknown_kind, slow_consumer)",
			},
			[]string{"reason"},
		),
		AdmissionRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatgate_ws_admission_rejected_total",
				Help: "Connections rejected at admission by reason",
			},
			[]string{"reason"},
		),
		SweepEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chatgate_ws_sweep_evictions_total",
				Help: "Stale connections evicted by the sweeper",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.Connections,
		m.Envelopes,
		m.EnvelopesDropped,
		m.AdmissionRejected,
		m.SweepEvictions,
	)
	return m, reg
}

// RecordHTTPRequest records metrics for one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEnvelope counts one envelope crossing the transport.
func (m *Metrics) RecordEnvelope(kind, direction string) {
	m.Envelopes.WithLabelValues(kind, direction).Inc()
}

// RecordDrop counts one dropped envelope.
func (m *Metrics) RecordDrop(reason string) {
	m.EnvelopesDropped.WithLabelValues(reason).Inc()
}

// RecordRejection counts one rejected admission.
func (m *Metrics) RecordRejection(reason string) {
	m.AdmissionRejected.WithLabelValues(reason).Inc()
}

// Uptime returns time since the collector was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
