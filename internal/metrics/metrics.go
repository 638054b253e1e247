package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbonledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carbonledger_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbonledger_payments_total",
			Help: "Payments reaching a status, by method",
		},
		[]string{"method", "status"},
	)

	SettlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carbonledger_settlement_duration_seconds",
			Help:    "Time spent in processPayment, including the processor call",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "outcome"},
	)

	ProcessorCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbonledger_processor_calls_total",
			Help: "Calls to payment processors",
		},
		[]string{"processor", "operation", "outcome"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbonledger_webhook_events_total",
			Help: "Processor events handled by the reconciler",
		},
		[]string{"processor", "outcome"},
	)

	ReconcileRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbonledger_reconcile_runs_total",
			Help: "Per-payment reconciliation attempts",
		},
		[]string{"outcome"},
	)

	PaymentsNeedingReview = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carbonledger_payments_needing_review",
			Help: "Payments escalated for manual reconciliation",
		},
	)

	InvariantViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbonledger_invariant_violations_total",
			Help: "Ledger operations rejected by an invariant check",
		},
		[]string{"operation"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbonledger_notifications_total",
			Help: "Notification events by delivery status",
		},
		[]string{"status"},
	)

	NotificationQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carbonledger_notification_queue_length",
			Help: "Current length of the notification queue",
		},
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbonledger_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"action"},
	)

	WalletTopUpsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carbonledger_wallet_topups_total",
			Help: "Total number of wallet top-ups",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordPayment(method, status string) {
	PaymentsTotal.WithLabelValues(method, status).Inc()
}

func ObserveSettlement(method, outcome string, seconds float64) {
	SettlementDuration.WithLabelValues(method, outcome).Observe(seconds)
}

func RecordProcessorCall(processor, operation, outcome string) {
	ProcessorCallsTotal.WithLabelValues(processor, operation, outcome).Inc()
}

func RecordWebhookEvent(processor, outcome string) {
	WebhookEventsTotal.WithLabelValues(processor, outcome).Inc()
}

func RecordReconcileRun(outcome string) {
	ReconcileRunsTotal.WithLabelValues(outcome).Inc()
}

func SetPaymentsNeedingReview(n int) {
	PaymentsNeedingReview.Set(float64(n))
}

func RecordInvariantViolation(operation string) {
	InvariantViolationsTotal.WithLabelValues(operation).Inc()
}

func RecordNotification(status string) {
	NotificationsTotal.WithLabelValues(status).Inc()
}

func RecordRateLimited(action string) {
	RateLimitedTotal.WithLabelValues(action).Inc()
}

func RecordWalletTopUp() {
	WalletTopUpsTotal.Inc()
}
