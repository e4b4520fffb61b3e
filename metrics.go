package restlimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors a Client records into.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RateLimitedTotal *prometheus.CounterVec
	RetriesTotal     *prometheus.CounterVec
	Buckets          prometheus.Gauge
	GlobalBlocked    prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "restlimit",
				Name:      "requests_total",
				Help:      "Total number of attempts that received a response",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "restlimit",
				Name:      "request_duration_seconds",
				Help:      "Round trip latency of each attempt",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RateLimitedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "restlimit",
				Name:      "rate_limited_total",
				Help:      "Rate limits hit, by scope",
			},
			[]string{"scope"}, // scope=bucket/global/shared/user
		),
		RetriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "restlimit",
				Name:      "retries_total",
				Help:      "Attempts retried after a failure",
			},
			[]string{"reason"}, // reason=transport/server/rate_limit
		),
		Buckets: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "restlimit",
				Name:      "buckets",
				Help:      "Number of live rate limit buckets",
			},
		),
		GlobalBlocked: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "restlimit",
				Name:      "global_blocked",
				Help:      "1 while the global rate limit is in force",
			},
		),
	}
}
