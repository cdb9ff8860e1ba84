// Package observability exposes the engine counters to Prometheus.
package observability

import (
	"chat-engine/domain/event"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chat_engine"

// Metrics is safe for concurrent use. A nil *Metrics records nothing, so
// components can be built without observability in tests.
type Metrics struct {
	eventsPublished     *prometheus.CounterVec
	deliveriesDropped   *prometheus.CounterVec
	messagesAppended    *prometheus.CounterVec
	activeSubscriptions prometheus.Gauge
	onlineUsers         prometheus.Gauge
	staleSignals        *prometheus.CounterVec
	rateLimited         prometheus.Counter
	queueLength         *prometheus.GaugeVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events routed by the fan-out workers.",
		}, []string{"type"}),
		deliveriesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Events not delivered to a subscriber because its buffer was full or it timed out.",
		}, []string{"type"}),
		messagesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended to a conversation or community log.",
		}, []string{"kind"}),
		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Live topic subscriptions.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with at least one open connection.",
		}),
		staleSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_signals_total",
			Help:      "Presence and typing signals dropped because they arrived out of order.",
		}, []string{"kind"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the per-user rate limiter.",
		}),
		queueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Events waiting in a fan-out shard queue.",
		}, []string{"channel"}),
	}
	registerer.MustRegister(
		m.eventsPublished,
		m.deliveriesDropped,
		m.messagesAppended,
		m.activeSubscriptions,
		m.onlineUsers,
		m.staleSignals,
		m.rateLimited,
		m.queueLength,
	)
	return m
}

func (m *Metrics) IncrPublished(t event.Type) {
	if m != nil {
		m.eventsPublished.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) IncrDropped(t event.Type) {
	if m != nil {
		m.deliveriesDropped.WithLabelValues(string(t)).Inc()
	}
}

// IncrAppended takes "conversation" or "community".
func (m *Metrics) IncrAppended(kind string) {
	if m != nil {
		m.messagesAppended.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) AddSubscriptions(delta int) {
	if m != nil {
		m.activeSubscriptions.Add(float64(delta))
	}
}

func (m *Metrics) AddOnline(delta int) {
	if m != nil {
		m.onlineUsers.Add(float64(delta))
	}
}

// IncrStale takes "presence" or "typing".
func (m *Metrics) IncrStale(kind string) {
	if m != nil {
		m.staleSignals.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrRateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) SetQueueLength(channel string, length int) {
	if m != nil {
		m.queueLength.WithLabelValues(channel).Set(float64(length))
	}
}
