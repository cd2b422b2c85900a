package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CheckoutsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studiobook_checkouts_opened_total",
			Help: "Number of checkout sessions opened",
		},
	)

	PurchasesCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studiobook_purchases_completed_total",
			Help: "Number of purchases that reached the success phase",
		},
	)

	PurchasesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studiobook_purchases_failed_total",
			Help: "Number of checkouts that reached the failed phase",
		},
	)

	BillingRecoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studiobook_billing_recoveries_total",
			Help: "Number of billing recovery sub-flows entered",
		},
	)

	SubmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "studiobook_submit_duration_seconds",
			Help: "Time taken by the terminal create-purchase call",
		},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "studiobook_http_request_duration_seconds",
			Help: "Time taken to serve HTTP requests",
		},
		[]string{"method", "status"},
	)
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(CheckoutsOpened, PurchasesCompleted, PurchasesFailed, BillingRecoveries, SubmitDuration, HTTPRequestDuration)
}
