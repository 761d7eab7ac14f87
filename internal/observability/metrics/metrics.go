// Package metrics holds the bot's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	events         *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	queueDropped   prometheus.Counter
	activeSessions prometheus.Gauge
	logins         *prometheus.CounterVec
	fetches        *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	notifications  *prometheus.CounterVec
	commands       *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradebot_events_total",
		Help: "Change events handled by the coordinator",
	}, []string{"type"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gradebot_event_queue_depth",
		Help: "Events waiting in the coordinator queue",
	})

	queueDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gradebot_event_queue_dropped_total",
		Help: "Events discarded because the queue was full",
	})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gradebot_active_sessions",
		Help: "Live credential sessions and pollers",
	})

	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradebot_logins_total",
		Help: "Login attempts by final status",
	}, []string{"status"})

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradebot_fetches_total",
		Help: "Record page fetches by result",
	}, []string{"result"})

	fetchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gradebot_fetch_duration_seconds",
		Help:    "Record page fetch latency",
		Buckets: prometheus.DefBuckets,
	})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradebot_notifications_total",
		Help: "Outbound notifications by result",
	}, []string{"result"})

	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradebot_commands_total",
		Help: "Inbound chat commands by name",
	}, []string{"command"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gradebot_goroutines",
		Help: "Number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(events, queueDepth, queueDropped, activeSessions, logins,
		fetches, fetchDuration, notifications, commands, goroutines)

	return &Metrics{
		registry:       registry,
		handler:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		events:         events,
		queueDepth:     queueDepth,
		queueDropped:   queueDropped,
		activeSessions: activeSessions,
		logins:         logins,
		fetches:        fetches,
		fetchDuration:  fetchDuration,
		notifications:  notifications,
		commands:       commands,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Event(typ string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(typ).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) QueueDropped() {
	if m == nil {
		return
	}
	m.queueDropped.Inc()
}

func (m *Metrics) ActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) Login(status string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(status).Inc()
}

func (m *Metrics) Fetch(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(took.Seconds())
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name).Inc()
}
