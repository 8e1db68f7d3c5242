package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// Invoice charge metrics
	invoiceChargesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_invoice_charges_total",
		Help: "Total invoice charge attempts",
	}, []string{
		"status", // paid, failed, skipped
	})

	invoiceChargeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "billing_invoice_charge_duration_seconds",
		Help: "Time to execute an invoice charge including the gateway call",
		// Buckets: 100ms to 30s (typical gateway round-trip times)
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"status",
	})

	// Subscription lifecycle metrics
	subscriptionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_subscriptions_created_total",
		Help: "Total subscriptions created",
	}, []string{
		"status", // TRIALING, ACTIVE
	})

	subscriptionsCanceledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_subscriptions_canceled_total",
		Help: "Total subscriptions canceled",
	})

	scheduleOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_schedule_outcomes_total",
		Help: "Outcomes of detached gateway schedule creation tasks",
	}, []string{
		"outcome", // created, failed
	})

	// Refund metrics
	refundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_refunds_total",
		Help: "Total confirmed refunds",
	}, []string{
		"path",   // invoice, order
		"extent", // full, partial
	})

	// Webhook metrics
	webhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_requests_total",
		Help: "Inbound webhook deliveries by outcome",
	}, []string{
		"outcome", // accepted, rejected, processing_failed
	})

	// Billing runner metrics
	billingRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_runs_total",
		Help: "Billing runner ticks executed",
	})

	billingRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "billing_run_duration_seconds",
		Help:    "Wall time of one billing runner tick",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	})
)

// RecordInvoiceCharge records one invoice charge attempt and its duration
func RecordInvoiceCharge(status string, duration time.Duration) {
	invoiceChargesTotal.WithLabelValues(status).Inc()
	invoiceChargeDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordSubscriptionCreated records a subscription creation by initial status
func RecordSubscriptionCreated(status string) {
	subscriptionsCreatedTotal.WithLabelValues(status).Inc()
}

// RecordSubscriptionCanceled records a subscription cancellation
func RecordSubscriptionCanceled() {
	subscriptionsCanceledTotal.Inc()
}

// RecordScheduleOutcome records the result of a detached schedule creation
func RecordScheduleOutcome(err error) {
	if err != nil {
		scheduleOutcomesTotal.WithLabelValues("failed").Inc()
		return
	}
	scheduleOutcomesTotal.WithLabelValues("created").Inc()
}

// RecordRefund records a confirmed refund by path and extent
func RecordRefund(path string, full bool) {
	extent := "partial"
	if full {
		extent = "full"
	}
	refundsTotal.WithLabelValues(path, extent).Inc()
}

// RecordWebhook records an inbound webhook delivery outcome
func RecordWebhook(outcome string) {
	webhookRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordBillingRun records one runner tick and its duration
func RecordBillingRun(duration time.Duration) {
	billingRunsTotal.Inc()
	billingRunDuration.Observe(duration.Seconds())
}

// MetricsServer serves the Prometheus scrape endpoint on its own listener
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a metrics server listening on addr
func NewMetricsServer(addr string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger,
	}
}

// Start begins serving in a background goroutine
func (m *MetricsServer) Start() {
	go func() {
		m.logger.Info("metrics server listening", zap.String("addr", m.server.Addr))
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the metrics server
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}
