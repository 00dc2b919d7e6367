// Package metrics holds the Prometheus collectors exported on /metrics.
// Every method is safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schoolchat"

type Metrics struct {
	registry *prometheus.Registry

	activeConnections prometheus.Gauge
	onlineUsers       prometheus.Gauge
	eventsReceived    *prometheus.CounterVec
	messagesRouted    *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	moderationCalls   *prometheus.CounterVec
	moderationLatency prometheus.Histogram
	notifications     *prometheus.CounterVec
	rateLimited       *prometheus.CounterVec
	retentionPurged   prometheus.Counter
}

// New builds the collectors on a private registry, plus Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_connections",
			Help: "Open socket connections, authenticated or not.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "online_users",
			Help: "Users with a bound connection.",
		}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "socket_events_received_total",
			Help: "Inbound socket events by name.",
		}, []string{"event"}),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_routed_total",
			Help: "Messages persisted and delivered, by kind and channel.",
		}, []string{"kind", "channel"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_rejected_total",
			Help: "Messages rejected before delivery, by kind and stage.",
		}, []string{"kind", "stage"}),
		moderationCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "moderation_calls_total",
			Help: "Sentiment classifier calls by outcome.",
		}, []string{"outcome"}),
		moderationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "moderation_call_duration_seconds",
			Help:    "Sentiment classifier round-trip time.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8},
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notification side-channel outcomes.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Requests refused by the rate limiter, by scope.",
		}, []string{"scope"}),
		retentionPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retention_purged_notifications_total",
			Help: "Read notifications deleted by the retention job.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.activeConnections,
		m.onlineUsers,
		m.eventsReceived,
		m.messagesRouted,
		m.rejections,
		m.moderationCalls,
		m.moderationLatency,
		m.notifications,
		m.rateLimited,
		m.retentionPurged,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(n))
}

func (m *Metrics) EventReceived(event string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(event).Inc()
}

func (m *Metrics) MessageRouted(kind, channel string) {
	if m == nil {
		return
	}
	m.messagesRouted.WithLabelValues(kind, channel).Inc()
}

func (m *Metrics) MessageRejected(kind, stage string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(kind, stage).Inc()
}

// ModerationCall records one classifier call; outcome is allowed, rejected or error.
func (m *Metrics) ModerationCall(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.moderationCalls.WithLabelValues(outcome).Inc()
	m.moderationLatency.Observe(took.Seconds())
}

// Notification records enqueued, delivered, dropped or failed.
func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}

func (m *Metrics) RetentionPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.retentionPurged.Add(float64(n))
}
