// Package metric exposes the process metrics as prometheus collectors.
// All record helpers are safe on a nil *Metrics so components can run
// without metrics wired in.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the backbone records into, registered on a
// private registry.
type Metrics struct {
	registry *prometheus.Registry

	MQTTConnected       prometheus.Gauge
	MQTTReconnects      prometheus.Counter
	MessagesPublished   *prometheus.CounterVec // result: delivered, queued, dropped
	MessagesReceived    *prometheus.CounterVec // kind: state, visualization, connection
	PendingBuffered     prometheus.Gauge
	PendingDropped      prometheus.Counter
	CircuitState        prometheus.Gauge // 0=closed, 1=open, 2=half-open
	HealthChecks        *prometheus.CounterVec // status: healthy, degraded, unhealthy
	HealthCheckDuration prometheus.Histogram
	PersistedMessages   prometheus.Counter
}

// New builds the metrics set on a fresh registry including the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MQTTConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetlink",
			Subsystem: "mqtt",
			Name:      "connected",
			Help:      "Broker connection status (0=disconnected, 1=connected)",
		}),
		MQTTReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetlink",
			Subsystem: "mqtt",
			Name:      "reconnects_total",
			Help:      "Total number of broker reconnections",
		}),
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetlink",
			Subsystem: "messages",
			Name:      "published_total",
			Help:      "Outbound messages by result",
		}, []string{"result"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetlink",
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Inbound messages by kind",
		}, []string{"kind"}),
		PendingBuffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetlink",
			Subsystem: "pending",
			Name:      "buffered",
			Help:      "Messages waiting in the in-memory pending buffer",
		}),
		PendingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetlink",
			Subsystem: "pending",
			Name:      "dropped_total",
			Help:      "Messages dropped from a full pending buffer",
		}),
		CircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetlink",
			Subsystem: "health",
			Name:      "circuit_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		HealthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetlink",
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Health check results by status",
		}, []string{"status"}),
		HealthCheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fleetlink",
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Health check round-trip duration",
			Buckets:   prometheus.DefBuckets,
		}),
		PersistedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetlink",
			Subsystem: "persistence",
			Name:      "messages_total",
			Help:      "Messages written to durable batch files",
		}),
	}

	m.registry.MustRegister(
		m.MQTTConnected,
		m.MQTTReconnects,
		m.MessagesPublished,
		m.MessagesReceived,
		m.PendingBuffered,
		m.PendingDropped,
		m.CircuitState,
		m.HealthChecks,
		m.HealthCheckDuration,
		m.PersistedMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordConnected updates the broker connection gauge.
func (m *Metrics) RecordConnected(connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1.0
	}
	m.MQTTConnected.Set(v)
}

// RecordReconnect increments the reconnection counter.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.MQTTReconnects.Inc()
}

// RecordPublished counts an outbound message by result.
func (m *Metrics) RecordPublished(result string) {
	if m == nil {
		return
	}
	m.MessagesPublished.WithLabelValues(result).Inc()
}

// RecordReceived counts an inbound message by kind.
func (m *Metrics) RecordReceived(kind string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

// RecordPendingBuffered updates the pending buffer gauge.
func (m *Metrics) RecordPendingBuffered(n int) {
	if m == nil {
		return
	}
	m.PendingBuffered.Set(float64(n))
}

// RecordPendingDropped counts a message dropped from a full buffer.
func (m *Metrics) RecordPendingDropped() {
	if m == nil {
		return
	}
	m.PendingDropped.Inc()
}

// RecordCircuitState updates the breaker gauge
// (0=closed, 1=open, 2=half-open).
func (m *Metrics) RecordCircuitState(state int) {
	if m == nil {
		return
	}
	m.CircuitState.Set(float64(state))
}

// RecordHealthCheck counts one health check and its duration.
func (m *Metrics) RecordHealthCheck(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HealthChecks.WithLabelValues(status).Inc()
	m.HealthCheckDuration.Observe(d.Seconds())
}

// RecordPersisted counts messages written to durable storage.
func (m *Metrics) RecordPersisted(n int) {
	if m == nil {
		return
	}
	m.PersistedMessages.Add(float64(n))
}
