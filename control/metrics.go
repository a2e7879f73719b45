// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for accept, handshake and per-connection failures.
// Updated only from the reactor thread; scraped from any goroutine.

package control

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the reactor's collectors.
type Metrics struct {
	registry *prometheus.Registry

	accepted     prometheus.Counter
	rejected     prometheus.Counter
	acceptErrors prometheus.Counter
	handshakes   prometheus.Counter
	connErrors   *prometheus.CounterVec
	connections  *prometheus.GaugeVec
	handshakeDur prometheus.Histogram
}

// NewMetrics registers collectors on reg. A nil reg gets a private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		accepted: f.NewCounter(prometheus.CounterOpts{
			Name: "wsreactor_accepted_total",
			Help: "Connections accepted from the listening socket.",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Name: "wsreactor_rejected_total",
			Help: "Accepted connections closed by the admission limiter.",
		}),
		acceptErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "wsreactor_accept_errors_total",
			Help: "Failed accept calls.",
		}),
		handshakes: f.NewCounter(prometheus.CounterOpts{
			Name: "wsreactor_handshakes_total",
			Help: "Completed 101 Switching Protocols responses.",
		}),
		connErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wsreactor_connection_errors_total",
			Help: "Per-connection failures by kind.",
		}, []string{"kind"}),
		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wsreactor_connections",
			Help: "Live connections by handshake state.",
		}, []string{"state"}),
		handshakeDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wsreactor_handshake_duration_seconds",
			Help:    "Time from accept to a fully written 101 response.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Accepted(state string) {
	m.accepted.Inc()
	m.connections.WithLabelValues(state).Inc()
}

func (m *Metrics) Rejected()     { m.rejected.Inc() }
func (m *Metrics) AcceptFailed() { m.acceptErrors.Inc() }

// Transition moves one live connection between state gauges.
func (m *Metrics) Transition(from, to string) {
	if from == to {
		return
	}
	m.connections.WithLabelValues(from).Dec()
	m.connections.WithLabelValues(to).Inc()
}

func (m *Metrics) HandshakeCompleted(took time.Duration) {
	m.handshakes.Inc()
	m.handshakeDur.Observe(took.Seconds())
}

func (m *Metrics) ConnectionFailed(kind string) {
	m.connErrors.WithLabelValues(kind).Inc()
}

// Removed drops a connection from its state gauge.
func (m *Metrics) Removed(state string) {
	m.connections.WithLabelValues(state).Dec()
}
