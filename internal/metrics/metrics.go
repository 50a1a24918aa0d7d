// Package metrics holds the Prometheus collectors of the daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the daemon's collectors on a private registry.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	eventsIngested  *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	notifyDropped   *prometheus.CounterVec
	reconnects      prometheus.Counter
	persistFailures prometheus.Counter
	embeddings      *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	connState       *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wppagent",
			Name:      "events_ingested_total",
			Help:      "Inbound events written to the store, by kind.",
		}, []string{"kind"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wppagent",
			Name:      "events_dropped_total",
			Help:      "Inbound events dropped after a handler failure, by kind.",
		}, []string{"kind"}),
		notifyDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wppagent",
			Name:      "notifications_dropped_total",
			Help:      "Bus notifications missed by a full subscriber, by kind.",
		}, []string{"kind"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wppagent",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wppagent",
			Name:      "credential_persist_failures_total",
			Help:      "Failed attempts to re-encrypt session credentials.",
		}),
		embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wppagent",
			Name:      "embeddings_total",
			Help:      "Embedding jobs, by result.",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wppagent",
			Name:      "scheduled_deliveries_total",
			Help:      "Scheduled message deliveries, by result.",
		}, []string{"result"}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wppagent",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsIngested, m.eventsDropped, m.notifyDropped, m.reconnects, m.persistFailures,
		m.embeddings, m.deliveries, m.connState,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventIngested(kind string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventDropped(kind string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) NotificationDropped(kind string) {
	if m == nil {
		return
	}
	m.notifyDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) CredentialPersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// Embedding counts one embedding job; result is "ok", "error" or "dropped".
func (m *Metrics) Embedding(result string) {
	if m == nil {
		return
	}
	m.embeddings.WithLabelValues(result).Inc()
}

// Delivery counts one scheduled delivery; result is "sent" or "failed".
func (m *Metrics) Delivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}

// SetConnState marks state as current among the known states.
func (m *Metrics) SetConnState(state string, known ...string) {
	if m == nil {
		return
	}
	for _, s := range known {
		m.connState.WithLabelValues(s).Set(0)
	}
	m.connState.WithLabelValues(state).Set(1)
}
