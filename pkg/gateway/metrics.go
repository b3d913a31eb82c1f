package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. It also implements
// relay.Metrics so the relay can count deliveries and drops.
type Metrics struct {
	activeSessions prometheus.Gauge
	rooms          prometheus.Gauge
	eventsIn       prometheus.Counter
	relayDelivered prometheus.Counter
	relayDropped   prometheus.Counter
	authFailures   prometheus.Counter
}

// NewMetrics registers the gateway collectors with reg. Pass a fresh
// prometheus.NewRegistry in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "corkboard",
			Name:      "active_sessions",
			Help:      "Number of live authenticated sessions.",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "corkboard",
			Name:      "rooms",
			Help:      "Number of rooms with at least one member.",
		}),
		eventsIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corkboard",
			Name:      "events_received_total",
			Help:      "Inbound collaboration and cursor frames accepted.",
		}),
		relayDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corkboard",
			Name:      "relay_deliveries_total",
			Help:      "Messages enqueued to subscribers by the relay.",
		}),
		relayDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corkboard",
			Name:      "relay_dropped_total",
			Help:      "Relay deliveries dropped due to slow or closed subscribers.",
		}),
		authFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corkboard",
			Name:      "auth_failures_total",
			Help:      "Handshakes rejected for missing or invalid credentials.",
		}),
	}
}

// RelayDelivered implements relay.Metrics.
func (m *Metrics) RelayDelivered() {
	if m != nil {
		m.relayDelivered.Inc()
	}
}

// RelayDropped implements relay.Metrics.
func (m *Metrics) RelayDropped() {
	if m != nil {
		m.relayDropped.Inc()
	}
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) setRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) eventReceived() {
	if m != nil {
		m.eventsIn.Inc()
	}
}

func (m *Metrics) authFailure() {
	if m != nil {
		m.authFailures.Inc()
	}
}
