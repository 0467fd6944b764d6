// Package metrics exposes Prometheus instrumentation for the engine's
// operations. Collectors are registered via promauto on the default
// registry; cmd/server mounts promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionDuration tracks the latency of transaction submissions.
	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loyalty_submission_duration_seconds",
			Help:    "Duration of transaction submissions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"kind", "status"}, // kind: purchase|redemption, status: success|failure
	)

	// TransactionsRecorded counts primary movements by kind.
	TransactionsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_transactions_recorded_total",
			Help: "Number of primary movements recorded, by kind",
		},
		[]string{"kind"},
	)

	// CouponsMinted counts coupons minted out of submissions.
	CouponsMinted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_coupons_minted_total",
			Help: "Number of coupons minted",
		},
	)

	// CouponsRedeemed counts successful coupon redemptions.
	CouponsRedeemed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_coupons_redeemed_total",
			Help: "Number of coupons redeemed",
		},
	)
)

// RecordSubmission records one submission outcome with its latency.
func RecordSubmission(kind, status string, seconds float64) {
	SubmissionDuration.WithLabelValues(kind, status).Observe(seconds)
	if status == "success" {
		TransactionsRecorded.WithLabelValues(kind).Inc()
	}
}
