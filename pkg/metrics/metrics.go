package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerificationAttempts records two-factor verification attempts by method
	// (totp|backup_code) and result (success|failure).
	VerificationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supauth_verification_attempts_total",
			Help: "Total number of two-factor verification attempts",
		},
		[]string{"method", "result"},
	)

	// RateLimitDenials counts rate-limit rejections by action.
	RateLimitDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supauth_rate_limit_denials_total",
			Help: "Total number of requests denied by the rate limiter",
		},
		[]string{"action"},
	)

	// TrustedDevices tracks the number of live trusted-device records.
	TrustedDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supauth_trusted_devices",
			Help: "Number of non-expired trusted devices",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supauth_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
