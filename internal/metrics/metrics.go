package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Live Channel state as a number (see live.State).
	LiveChannelState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomnoti_live_channel_state",
			Help: "Current live channel state (0 disconnected, 1 connecting, 2 connected, 3 stopped)",
		},
	)

	// Push events received, by SSE event name.
	LiveEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomnoti_live_events_total",
			Help: "Total number of server-push events received",
		},
		[]string{"event"},
	)

	// Push payloads that failed to decode.
	LiveDecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomnoti_live_decode_failures_total",
			Help: "Total number of notification events dropped because the payload could not be decoded",
		},
	)

	// Push events dropped as redeliveries.
	LiveDuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomnoti_live_duplicates_dropped_total",
			Help: "Total number of notification events dropped as redeliveries",
		},
	)

	// Scheduled reconnects, by failure class.
	LiveReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomnoti_live_reconnects_total",
			Help: "Total number of scheduled live channel reconnects",
		},
		[]string{"reason"},
	)

	// Backend request latency (seconds).
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomnoti_backend_request_duration_seconds",
			Help:    "Backend REST request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"method", "endpoint", "status"},
	)

	// Unread counter as held by the store.
	InboxUnread = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomnoti_inbox_unread",
			Help: "Unread notifications according to the local store",
		},
	)

	// Optimistic mutations that had to be compensated.
	InboxCompensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomnoti_inbox_compensations_total",
			Help: "Total number of optimistic inbox mutations reverted after a failed request",
		},
		[]string{"op"},
	)
)

// SetLiveChannelState records the live channel state.
func SetLiveChannelState(state int) {
	LiveChannelState.Set(float64(state))
}

// IncrementLiveEvent counts one received push event.
func IncrementLiveEvent(event string) {
	LiveEventsTotal.WithLabelValues(event).Inc()
}

// IncrementLiveDecodeFailure counts one dropped malformed payload.
func IncrementLiveDecodeFailure() {
	LiveDecodeFailures.Inc()
}

// IncrementLiveDuplicate counts one dropped redelivery.
func IncrementLiveDuplicate() {
	LiveDuplicatesDropped.Inc()
}

// IncrementLiveReconnect counts one scheduled reconnect.
func IncrementLiveReconnect(reason string) {
	LiveReconnects.WithLabelValues(reason).Inc()
}

// RecordBackendRequest records a backend request duration.
func RecordBackendRequest(method, endpoint, status string, duration time.Duration) {
	BackendRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// SetInboxUnread records the store's unread counter.
func SetInboxUnread(n int) {
	InboxUnread.Set(float64(n))
}

// IncrementCompensation counts one reverted optimistic mutation.
func IncrementCompensation(op string) {
	InboxCompensations.WithLabelValues(op).Inc()
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
