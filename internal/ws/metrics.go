package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons reported on the dropped events counter.
const (
	dropMalformed    = "malformed"
	dropUnknown      = "unknown_event"
	dropNoBoard      = "missing_board"
	dropCrossBoard   = "cross_board"
	dropNotJoined    = "not_joined"
	dropRateLimited  = "rate_limited"
	dropInvalidFrame = "invalid_payload"
)

// Metrics holds the prometheus collectors of the realtime server.
type Metrics struct {
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	received    *prometheus.CounterVec
	relayed     *prometheus.CounterVec
	dropped     *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	namespace string
	registry  prometheus.Registerer
}

// WithMetricsNamespace sets the metrics namespace (default "taskboard").
func WithMetricsNamespace(ns string) MetricsOption {
	return func(c *metricsConfig) {
		c.namespace = ns
	}
}

// WithMetricsRegistry sets the registerer (default prometheus.DefaultRegisterer).
func WithMetricsRegistry(reg prometheus.Registerer) MetricsOption {
	return func(c *metricsConfig) {
		c.registry = reg
	}
}

// NewMetrics registers the server collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := metricsConfig{
		namespace: "taskboard",
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.registry)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Number of open websocket connections",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Subsystem: "ws",
			Name:      "rooms",
			Help:      "Number of boards with at least one joined connection",
		}),
		received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Subsystem: "ws",
			Name:      "events_received_total",
			Help:      "Inbound events by name",
		}, []string{"event"}),
		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Subsystem: "ws",
			Name:      "events_relayed_total",
			Help:      "Outbound events fanned out to a room, by name",
		}, []string{"event"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Subsystem: "ws",
			Name:      "events_dropped_total",
			Help:      "Inbound events dropped without delivery, by reason",
		}, []string{"reason"}),
	}
}

// nil-safe helpers so tests can run a server without collectors.

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) setRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) receivedEvent(event string) {
	if m != nil {
		m.received.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) relayedEvent(event string) {
	if m != nil {
		m.relayed.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) droppedEvent(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}
