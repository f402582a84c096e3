// Package metrics provides Prometheus instrumentation for the matching
// engine: decision throughput and latency, match and conversation outcomes,
// and rate limiting.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DecisionsTotal counts recorded decisions, labeled by direction:
	// "like" or "pass".
	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pawpal_decisions_total",
		Help: "Total number of swipe decisions recorded",
	}, []string{"direction"})

	// DecisionErrorsTotal counts failed Record calls by error code.
	DecisionErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pawpal_decision_errors_total",
		Help: "Total number of failed decision recordings",
	}, []string{"code"})

	// DecisionLatency records the time to write a decision and run match
	// detection, in seconds.
	DecisionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pawpal_decision_latency_seconds",
		Help:    "Decision recording latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// MatchesTotal counts match detections, labeled by outcome: "created"
	// when this call stored the match, "existing" when it read one back.
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pawpal_matches_total",
		Help: "Total number of mutual likes detected",
	}, []string{"outcome"})

	// ConversationsTotal counts bootstrap outcomes: "created", "reused" or
	// "failed".
	ConversationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pawpal_conversations_total",
		Help: "Total number of conversation bootstrap attempts",
	}, []string{"outcome"})

	// RateLimitedTotal counts decision requests rejected by the rate limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pawpal_rate_limited_total",
		Help: "Total number of decision requests rejected by rate limiting",
	})
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		DecisionErrorsTotal,
		DecisionLatency,
		MatchesTotal,
		ConversationsTotal,
		RateLimitedTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
