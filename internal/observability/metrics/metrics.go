package metrics

import "github.com/prometheus/client_golang/prometheus"

// BillingMetrics exposes counters/histograms for invoice and payment flows.
type BillingMetrics struct {
	invoiceSaves    *prometheus.CounterVec
	paymentOrders   *prometheus.CounterVec
	confirmations   *prometheus.CounterVec
	captureMismatch prometheus.Counter
	webhookLatency  *prometheus.HistogramVec
}

func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	m := &BillingMetrics{
		invoiceSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "billing",
			Name:      "invoice_saves_total",
			Help:      "Invoice create/update attempts by outcome",
		}, []string{"action", "status"}),
		paymentOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "billing",
			Name:      "payment_orders_total",
			Help:      "Gateway order creation attempts by outcome",
		}, []string{"status"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "billing",
			Name:      "payment_confirmations_total",
			Help:      "Payment confirmations by source and outcome",
		}, []string{"source", "status"}),
		captureMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "billing",
			Name:      "payment_capture_mismatch_total",
			Help:      "Payments captured by the gateway that could not be posted to the invoice",
		}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "billing",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of gateway webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.invoiceSaves, m.paymentOrders, m.confirmations, m.captureMismatch, m.webhookLatency)
	return m
}

// ObserveInvoiceSave records a save; action is "create" or "update".
func (m *BillingMetrics) ObserveInvoiceSave(action, status string) {
	if m == nil {
		return
	}
	m.invoiceSaves.WithLabelValues(action, status).Inc()
}

func (m *BillingMetrics) ObservePaymentOrder(status string) {
	if m == nil {
		return
	}
	m.paymentOrders.WithLabelValues(status).Inc()
}

func (m *BillingMetrics) ObserveConfirmation(source, status string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(source, status).Inc()
}

func (m *BillingMetrics) ObserveCaptureMismatch() {
	if m == nil {
		return
	}
	m.captureMismatch.Inc()
}

func (m *BillingMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}
