package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "reconnects_total", Help: "Transport reconnect attempts after an unexpected drop"})
	ConnectionDrops = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "connection_drops_total", Help: "Unexpected transport closures"})

	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "messages_delivered_total", Help: "Inbound topic messages delivered to handlers"},
		[]string{"family"},
	)
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "messages_dropped_total", Help: "Inbound messages dropped (malformed or unroutable)"},
		[]string{"family", "reason"},
	)

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "publish_failures_total", Help: "Outbound publishes rejected while disconnected"})

	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "ride_transitions_total", Help: "Ride lifecycle transitions"},
		[]string{"to"},
	)

	OffersEvicted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "offers_evicted_total", Help: "Stale offers evicted from the driver offer board"})

	GeocodeCacheHits   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "geocode_cache_hits_total", Help: "Geocode lookups served from the session cache"})
	GeocodeCacheMisses = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "geocode_cache_misses_total", Help: "Geocode lookups that went to the provider"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "http_requests_total", Help: "Requests served by the local ops endpoint"},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "ride_client", Name: "http_request_duration_seconds", Help: "Ops endpoint request latency", Buckets: prometheus.DefBuckets},
		[]string{"method", "route", "status"},
	)
)
