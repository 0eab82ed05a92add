// Package observability exposes the dispatch gateway's Prometheus metrics
// and the lightweight request tracer threaded through the HTTP and realtime
// layers.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/histogram/gauge the gateway records. It is
// built once at startup and threaded explicitly into the handlers and
// background workers that need it.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	JobsCreatedTotal      *prometheus.CounterVec
	JobStatusChangesTotal *prometheus.CounterVec
	OffersBroadcastTotal  prometheus.Counter
	OffersAcceptedTotal   prometheus.Counter
	OffersExpiredTotal    prometheus.Counter

	PricingEstimateDuration prometheus.Histogram
	MatchingDuration        prometheus.Histogram

	PenaltiesAppliedTotal *prometheus.CounterVec
	ActiveProvidersOnline prometheus.Gauge

	RealtimeConnectionsActive prometheus.Gauge
	RealtimeMessagesTotal     *prometheus.CounterVec
}

// New registers every metric against a fresh registry and returns both.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_http_requests_total",
			Help: "Total HTTP requests by route, method, and status class.",
		}, []string{"route", "method", "status"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),

		JobsCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_jobs_created_total",
			Help: "Jobs created by priority.",
		}, []string{"priority"}),

		JobStatusChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_job_status_changes_total",
			Help: "Job lifecycle transitions by destination status.",
		}, []string{"to_status"}),

		OffersBroadcastTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_offers_broadcast_total",
			Help: "Offers broadcast to candidate providers.",
		}),
		OffersAcceptedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_offers_accepted_total",
			Help: "Offers accepted by a provider.",
		}),
		OffersExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_offers_expired_total",
			Help: "Offers that expired unanswered.",
		}),

		PricingEstimateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_pricing_estimate_duration_seconds",
			Help:    "Time to compute a pricing estimate.",
			Buckets: prometheus.DefBuckets,
		}),
		MatchingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_matching_duration_seconds",
			Help:    "Time to qualify and rank providers for a job.",
			Buckets: prometheus.DefBuckets,
		}),

		PenaltiesAppliedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_penalties_applied_total",
			Help: "Scoring penalties applied by infraction kind.",
		}, []string{"kind"}),

		ActiveProvidersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_providers_online",
			Help: "Providers currently marked online.",
		}),

		RealtimeConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_realtime_connections_active",
			Help: "Open realtime session connections.",
		}),
		RealtimeMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_realtime_messages_total",
			Help: "Realtime messages by namespace and direction.",
		}, []string{"namespace", "direction"}),
	}

	return m, reg
}

// Handler returns the /metrics HTTP handler for the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
