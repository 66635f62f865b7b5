package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ApprovalDuration tracks the latency of the approve operation
	ApprovalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "doorlist_approval_duration_seconds",
			Help: "Duration of application approval requests in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
			},
		},
		[]string{"status"}, // success, no_codes, terminal or failed
	)

	// RedemptionOutcomes counts door scans by their terminal outcome
	RedemptionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorlist_redemption_outcomes_total",
			Help: "Door scan results by outcome",
		},
		[]string{"outcome"}, // approved, rejected, used or error
	)

	// GenerationDuration tracks bulk code generation latency
	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "doorlist_code_generation_duration_seconds",
			Help:    "Duration of bulk code generation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordApprovalDuration records the duration of an approval request
func RecordApprovalDuration(status string, duration float64) {
	ApprovalDuration.WithLabelValues(status).Observe(duration)
}

// RecordRedemptionOutcome counts a single scan outcome
func RecordRedemptionOutcome(outcome string) {
	RedemptionOutcomes.WithLabelValues(outcome).Inc()
}

// RecordGenerationDuration records the duration of a bulk code generation
func RecordGenerationDuration(duration float64) {
	GenerationDuration.Observe(duration)
}
