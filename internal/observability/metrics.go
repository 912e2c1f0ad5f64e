// README: Prometheus collectors for the ride request lifecycle and HTTP layer.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadhelper", Name: "ride_requests_created_total", Help: "Ride requests created"},
		[]string{"service_type"},
	)
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadhelper", Name: "transitions_total", Help: "Applied status transitions"},
		[]string{"to"},
	)
	Conflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadhelper", Name: "conflicts_total", Help: "Conditional writes rejected because the request changed"},
		[]string{"to"},
	)
	LiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "roadhelper", Name: "live_subscriptions", Help: "Open live subscriptions"},
		[]string{"kind"},
	)
	Dispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadhelper", Name: "dispatch_notifications_total", Help: "Helper notifications sent for new requests"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadhelper", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "roadhelper",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
