package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool_matching", Name: "searches_total",
		Help: "Total ride search queries evaluated"})
	CandidatesEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool_matching", Name: "candidates_evaluated_total",
		Help: "Total candidate rides considered across searches"})
	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool_matching", Name: "matches_total",
		Help: "Total rides returned as viable matches"})
	OracleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool_matching", Name: "oracle_failures_total",
		Help: "Routing oracle calls that failed and dropped a candidate"})
	MalformedRoutes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool_matching", Name: "malformed_routes_total",
		Help: "Candidates skipped for a missing or sub-2-point route"})
	BookingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool_matching", Name: "bookings_total",
		Help: "Successful seat bookings"})
	RidesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool_matching", Name: "rides_created_total",
		Help: "Rides offered by drivers"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool_matching", Name: "http_requests_total",
			Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carpool_matching",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
