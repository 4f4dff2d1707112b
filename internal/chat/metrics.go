package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "chatroom"

// Eviction reasons.
const (
	evictQueueFull   = "queue_full"
	evictWriteFailed = "write_failed"
)

// Metrics holds the chat collectors. A nil *Metrics records nothing.
type Metrics struct {
	clients    prometheus.Gauge
	joins      prometheus.Counter
	leaves     prometheus.Counter
	received   prometheus.Counter
	deliveries *prometheus.CounterVec
	evictions  *prometheus.CounterVec
	violations prometheus.Counter
}

// NewMetrics creates the chat collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "clients",
			Help:      "Number of clients currently registered in the hub.",
		}),
		joins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "joins_total",
			Help:      "Clients that completed the handshake and joined.",
		}),
		leaves: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "leaves_total",
			Help:      "Clients that left with the QUIT directive.",
		}),
		received: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Chat frames received from clients.",
		}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Broadcast deliveries by result.",
		}, []string{"result"}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "evictions_total",
			Help:      "Clients disconnected because they could not keep up.",
		}, []string{"reason"}),
		violations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "protocol_violations_total",
			Help:      "Connections closed for oversized or malformed frames.",
		}),
	}
}

func (m *Metrics) clientRegistered() {
	if m == nil {
		return
	}
	m.clients.Inc()
	m.joins.Inc()
}

func (m *Metrics) clientUnregistered() {
	if m == nil {
		return
	}
	m.clients.Dec()
}

func (m *Metrics) clientQuit() {
	if m == nil {
		return
	}
	m.leaves.Inc()
}

func (m *Metrics) messageReceived() {
	if m == nil {
		return
	}
	m.received.Inc()
}

func (m *Metrics) delivered(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) evicted(reason string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) protocolViolation() {
	if m == nil {
		return
	}
	m.violations.Inc()
}
