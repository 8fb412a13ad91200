package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for monitoring settlement health
var (
	CheckoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_checkouts_total",
			Help: "Total number of checkout attempts by outcome",
		},
		[]string{"outcome"},
	)

	FinalizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_finalizations_total",
			Help: "Total number of payment intent finalizations by outcome",
		},
		[]string{"outcome"},
	)

	RefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_refunds_total",
			Help: "Total number of refund attempts by outcome",
		},
		[]string{"outcome"},
	)

	PayoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_payouts_total",
			Help: "Total number of payout requests by outcome",
		},
		[]string{"outcome"},
	)

	WebhooksRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_webhooks_rejected_total",
			Help: "Total number of webhooks rejected at signature verification",
		},
		[]string{"provider"},
	)

	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_provider_call_duration_seconds",
			Help:    "Duration of external payment provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(
		CheckoutsTotal,
		FinalizationsTotal,
		RefundsTotal,
		PayoutsTotal,
		WebhooksRejectedTotal,
		ProviderCallDuration,
	)
}
