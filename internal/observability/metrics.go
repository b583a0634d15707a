package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DonationRequestsCreated counts persisted donation requests.
	DonationRequestsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bloodbooth_donation_requests_created_total",
		Help: "Total number of donation requests created",
	})

	// AdmissionRejections counts creates refused by the per-requester limiter.
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodbooth_admission_rejections_total",
		Help: "Total number of donation requests rejected by the admission limiter",
	}, []string{"mode"})

	// Transitions counts lifecycle actions by action and result.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodbooth_donation_request_transitions_total",
		Help: "Total number of donation request lifecycle actions by result",
	}, []string{"action", "result"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bloodbooth_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodbooth_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// EventsPublished counts lifecycle events pushed to participants.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodbooth_events_published_total",
		Help: "Total number of donation request events published by type and result",
	}, []string{"event_type", "result"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
