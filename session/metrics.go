package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter

	// Replay metrics
	FixesEmitted     prometheus.Counter
	SeeksTotal       prometheus.Counter
	PreviewSeeks     prometheus.Counter
	ReplaysStarted   prometheus.Counter
	ReplaysCompleted prometheus.Counter

	// Client metrics
	ConnectedClients prometheus.Gauge
	DroppedMessages  prometheus.Counter
}

// NewMetrics creates and registers all metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flightreplay_active_sessions",
			Help: "Number of currently active replay sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "flightreplay_sessions_created_total",
			Help: "Total number of replay sessions created",
		}),
		FixesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "flightreplay_gps_fixes_emitted_total",
			Help: "Total number of GPS fixes emitted across all sessions",
		}),
		SeeksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "flightreplay_seeks_total",
			Help: "Total number of committed seeks",
		}),
		PreviewSeeks: factory.NewCounter(prometheus.CounterOpts{
			Name: "flightreplay_preview_seeks_total",
			Help: "Total number of preview (scrub) seeks",
		}),
		ReplaysStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "flightreplay_replays_started_total",
			Help: "Total number of replay passes started",
		}),
		ReplaysCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "flightreplay_replays_completed_total",
			Help: "Total number of replay passes that ran to completion",
		}),
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flightreplay_connected_clients",
			Help: "Number of currently connected websocket clients",
		}),
		DroppedMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "flightreplay_dropped_messages_total",
			Help: "Messages dropped because a client send queue was full",
		}),
	}
}
