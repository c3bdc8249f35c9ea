package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_auth_attempts_total",
		Help: "Credential verifications by auth method and outcome",
	}, []string{"method", "outcome"})

	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_ratelimit_decisions_total",
		Help: "Rate limiter decisions by outcome",
	}, []string{"outcome"})

	GuardDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_guard_decisions_total",
		Help: "Trading guard decisions by risk tier and outcome",
	}, []string{"tier", "outcome"})

	GuardRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_guard_rejects_total",
		Help: "Trading guard rejections by reason",
	}, []string{"reason"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradegate_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
