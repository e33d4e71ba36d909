// Package metrics exposes the service's Prometheus collectors. A single
// Metrics value satisfies the recorder hooks of the registry, the services
// and the worker pool.
package metrics

import (
	"net/http"

	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	"github.com/lostfound/im-realtime-service/internal/service"
	"github.com/lostfound/im-realtime-service/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lostfound_im"

type Metrics struct {
	registry *prometheus.Registry

	connections   prometheus.Gauge
	registrations prometheus.Counter
	framesSent    *prometheus.CounterVec
	framesDropped *prometheus.CounterVec
	messagesSent  prometheus.Counter
	notifications *prometheus.CounterVec
	taskDrops     *prometheus.CounterVec
}

var (
	_ registry.Recorder   = (*Metrics)(nil)
	_ service.Recorder    = (*Metrics)(nil)
	_ worker.DropRecorder = (*Metrics)(nil)
)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_connections",
			Help:      "Live WebSocket connections held by the registry.",
		}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Connections registered, replacements included.",
		}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to client transports.",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames that never reached a client.",
		}, []string{"type", "reason"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Direct messages persisted.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Notifications persisted, by category.",
		}, []string{"category"}),
		taskDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effects_dropped_total",
			Help:      "Side-effect tasks rejected by the worker pool.",
		}, []string{"task", "reason"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.registrations,
		m.framesSent,
		m.framesDropped,
		m.messagesSent,
		m.notifications,
		m.taskDrops,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnectionOpened() {
	m.connections.Inc()
	m.registrations.Inc()
}

func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

func (m *Metrics) FrameSent(kind string) { m.framesSent.WithLabelValues(kind).Inc() }

func (m *Metrics) FrameDropped(kind, reason string) {
	m.framesDropped.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) MessageSent() { m.messagesSent.Inc() }

func (m *Metrics) NotificationCreated(category string) {
	m.notifications.WithLabelValues(category).Inc()
}

func (m *Metrics) TaskDropped(name, reason string) {
	m.taskDrops.WithLabelValues(name, reason).Inc()
}
