package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bars_sessions",
			Help: "Currently connected sockets by airport and kind",
		},
		[]string{"airport", "kind"},
	)

	packetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bars_packets_total",
			Help: "Inbound packets handled, by type and outcome",
		},
		[]string{"type", "outcome"}, // outcome: ok, rejected
	)

	broadcastFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bars_broadcast_fanout",
			Help:    "Number of sockets each broadcast was delivered to",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	droppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bars_dropped_frames_total",
			Help: "Outbound frames dropped because a client was not draining",
		},
	)

	persistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bars_persist_failures_total",
			Help: "Best-effort persistence writes that failed or were skipped",
		},
	)

	mergeRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bars_merge_rejections_total",
			Help: "State or shared-state merges rejected by the guard limits",
		},
	)

	analyticsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bars_analytics_dropped_total",
			Help: "Analytics events dropped due to queue overflow",
		},
	)

	authRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bars_auth_rejects_total",
			Help: "Connection attempts refused before upgrade, by reason",
		},
		[]string{"reason"},
	)
)

// AnalyticsDropCounter exposes the overflow counter as the emitter's
// drop hook.
func AnalyticsDropCounter() {
	analyticsDropped.Inc()
}
