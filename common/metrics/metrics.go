package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DeliveriesReceived 인입 결과별 웹훅 수 (accepted | duplicate | rate_limited | invalid)
	DeliveriesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_received_total",
			Help: "Total number of webhook deliveries received by intake result",
		},
		[]string{"result", "source"},
	)

	// DeliveryOutcomes 처리 결과별 웹훅 수
	DeliveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_delivery_outcomes_total",
			Help: "Total number of webhook processing attempts by outcome",
		},
		[]string{"outcome"},
	)

	OptimisticConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_optimistic_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts on order updates",
		},
	)

	RetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_retries_scheduled_total",
			Help: "Total number of delivery retries scheduled by error code",
		},
		[]string{"code"},
	)

	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_seconds",
			Help:    "Duration of a single webhook processing attempt",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"outcome"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_outbox_events_total",
			Help: "Total number of outbox events handled by result",
		},
		[]string{"result"},
	)
)

// Handler /metrics 노출용 HTTP 핸들러
func Handler() http.Handler {
	return promhttp.Handler()
}
