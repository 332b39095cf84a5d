// Package metrics exposes distributor counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "logrelay"

// Metrics holds the distributor's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	received        prometheus.Counter
	malformed       prometheus.Counter
	delivered       *prometheus.CounterVec
	listenerErrors  *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	requeued        prometheus.Counter
	deadLettered    prometheus.Counter
	tickDuration    prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages received from the queue transport",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deserialization_errors_total",
			Help:      "Messages that could not be decoded into log entries",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_delivered_total",
			Help:      "Entries accepted by a listener",
		}, []string{"listener"}),
		listenerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_errors_total",
			Help:      "Failed deliveries to a listener",
		}, []string{"listener"}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Transient transport failures by operation",
		}, []string{"op"}),
		requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_requeued_total",
			Help:      "Messages returned to the queue for another delivery attempt",
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dead_lettered_total",
			Help:      "Messages moved to dead-letter storage",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent draining the queue per tick",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	reg.MustRegister(
		m.received,
		m.malformed,
		m.delivered,
		m.listenerErrors,
		m.transportErrors,
		m.requeued,
		m.deadLettered,
		m.tickDuration,
	)
	return m
}

func (m *Metrics) Received() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *Metrics) Malformed() {
	if m != nil {
		m.malformed.Inc()
	}
}

func (m *Metrics) Delivered(listener string) {
	if m != nil {
		m.delivered.WithLabelValues(listener).Inc()
	}
}

func (m *Metrics) ListenerFailed(listener string) {
	if m != nil {
		m.listenerErrors.WithLabelValues(listener).Inc()
	}
}

func (m *Metrics) TransportFailed(op string) {
	if m != nil {
		m.transportErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Requeued() {
	if m != nil {
		m.requeued.Inc()
	}
}

func (m *Metrics) DeadLettered() {
	if m != nil {
		m.deadLettered.Inc()
	}
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m != nil {
		m.tickDuration.Observe(d.Seconds())
	}
}
