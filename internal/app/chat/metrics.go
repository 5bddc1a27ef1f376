package chat

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors. Each instance owns its own
// registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	connections  prometheus.Gauge
	occupiedRoom prometheus.Gauge
	evictions    prometheus.Counter

	// Traffic metrics
	framesReceived  *prometheus.CounterVec // by inbound type
	framesDropped   *prometheus.CounterVec // by reason
	broadcastFanout prometheus.Histogram
	sendFailures    prometheus.Counter

	// Moderation metrics
	moderation *prometheus.CounterVec // by action
	rejections *prometheus.CounterVec // join refusals by reason
}

// NewMetrics creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relaychat_connections",
			Help: "Current number of registered connections",
		}),
		occupiedRoom: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relaychat_active_rooms",
			Help: "Current number of rooms with at least one occupant",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_heartbeat_evictions_total",
			Help: "Connections terminated for missing a heartbeat",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_frames_received_total",
			Help: "Inbound frames accepted for dispatch, by type",
		}, []string{"type"}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_frames_dropped_total",
			Help: "Inbound frames discarded before taking effect, by reason",
		}, []string{"reason"}),
		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaychat_broadcast_fanout",
			Help:    "Recipients per room broadcast",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_send_failures_total",
			Help: "Outbound frames a transport refused",
		}),
		moderation: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_moderation_actions_total",
			Help: "Host moderation actions, by command",
		}, []string{"action"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_join_rejections_total",
			Help: "Join attempts refused, by reason",
		}, []string{"reason"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}


func (m *Metrics) setConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}

func (m *Metrics) setOccupiedRooms(n int) {
	if m != nil {
		m.occupiedRoom.Set(float64(n))
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) received(kind string) {
	if m != nil {
		m.framesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.framesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) fanout(n int) {
	if m != nil {
		m.broadcastFanout.Observe(float64(n))
	}
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

func (m *Metrics) moderated(action AdminCommand) {
	if m != nil {
		m.moderation.WithLabelValues(string(action)).Inc()
	}
}

func (m *Metrics) rejected(reason string) {
	if m != nil {
		m.rejections.WithLabelValues(reason).Inc()
	}
}
