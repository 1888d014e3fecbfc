package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_delivery_attempts_total",
		Help: "Total delivery attempts by channel and resulting status.",
	}, []string{"channel", "status"})

	DNDSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_dnd_suppressed_total",
		Help: "Deliveries suppressed because the recipient was in a Do-Not-Disturb window.",
	})

	PushLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notify_push_latency_seconds",
		Help:    "Latency of enqueueing an in-app push to live sessions.",
		Buckets: prometheus.DefBuckets,
	})
)

// RegisterConnectionGauge exposes the count of recipients with a live
// session. Called once from main after the registry is built.
func RegisterConnectionGauge(r *ConnectionRegistry) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "notify_connected_recipients",
		Help: "Recipients with at least one live websocket session.",
	}, func() float64 {
		return float64(r.ConnectedRecipients())
	})
}
