// README: Prometheus metrics for the dispatch engine and HTTP layer.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ridebid"

var (
	BidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bids_total", Help: "Bids submitted by type and outcome"},
		[]string{"type", "outcome"},
	)
	HoldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "holds_total", Help: "Hold operations by outcome"},
		[]string{"outcome"},
	)
	NegotiationRoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "negotiation_rounds_total", Help: "Negotiation proposals by initiator and outcome"},
		[]string{"initiator", "outcome"},
	)
	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "matches_total", Help: "Rides assigned to a driver"})
	QueueSize    = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "queue_size",
		Help:      "Rides visible per queue query",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})
	SweepExpiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "sweep_expired_total", Help: "Records expired or purged by the sweeper"},
		[]string{"kind"},
	)
	SideChannelFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "side_channel_failures_total", Help: "Swallowed audit and event failures"},
		[]string{"channel"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
