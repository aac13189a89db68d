package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Payment metrics
	PaymentsTotal    *prometheus.CounterVec
	PaymentSettled   prometheus.Counter
	ApprovalsTotal   *prometheus.CounterVec

	// Webhook metrics
	WebhookNotificationsTotal *prometheus.CounterVec
	WebhookDecryptFailures    prometheus.Counter

	// Gateway metrics
	GatewayRequestsTotal   *prometheus.CounterVec
	GatewayRequestDuration *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Reconciler metrics
	ReconcileRunsTotal     *prometheus.CounterVec
	ReconcileStalePayments prometheus.Gauge
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		PaymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_total",
				Help:      "Total number of payments by method and status",
			},
			[]string{"method", "status"},
		),
		PaymentSettled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_settled_total",
				Help:      "Total number of invoices settled by a successful payment",
			},
		),
		ApprovalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "manual_approvals_total",
				Help:      "Total number of manual payment approvals by result",
			},
			[]string{"result"},
		),
		WebhookNotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_notifications_total",
				Help:      "Total number of webhook notifications by outcome",
			},
			[]string{"outcome"},
		),
		WebhookDecryptFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_decrypt_failures_total",
				Help:      "Total number of webhook bodies that failed authentication or decoding",
			},
		),
		GatewayRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total number of gateway requests by operation and result",
			},
			[]string{"operation", "result"},
		),
		GatewayRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Gateway request duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ReconcileRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_total",
				Help:      "Total number of status reconciliations by result",
			},
			[]string{"result"},
		),
		ReconcileStalePayments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reconcile_stale_payments",
				Help:      "Number of unconfirmed payments past the stale age at the last sweep",
			},
		),
	}

	factory.MustRegister(
		m.PaymentsTotal,
		m.PaymentSettled,
		m.ApprovalsTotal,
		m.WebhookNotificationsTotal,
		m.WebhookDecryptFailures,
		m.GatewayRequestsTotal,
		m.GatewayRequestDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ReconcileRunsTotal,
		m.ReconcileStalePayments,
	)

	return m
}
