package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tokenpay"

// PaymentMetrics instruments the payment pipeline. A nil *PaymentMetrics is
// valid and records nothing.
type PaymentMetrics struct {
	paymentsStarted  *prometheus.CounterVec
	paymentsFinished *prometheus.CounterVec
	paymentDuration  *prometheus.HistogramVec
	tokenFetches     *prometheus.CounterVec
	receiptPolls     *prometheus.CounterVec
	reconciled       *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	return &PaymentMetrics{
		paymentsStarted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_started_total",
				Help:      "The number of payment attempts started, by gas payment mode",
			}, []string{"mode"}),

		paymentsFinished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_finished_total",
				Help:      "The number of payment attempts finished, by mode and outcome code",
			}, []string{"mode", "outcome"}),

		paymentDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payment_duration_seconds",
				Help:      "Time from payment request to receipt or failure",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			}, []string{"mode"}),

		tokenFetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_catalog_fetch_total",
				Help:      "The number of supported token fetches from the paymaster",
			}, []string{"result"}),

		receiptPolls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "receipt_polls_total",
				Help:      "The number of eth_getUserOperationReceipt polls",
			}, []string{"result"}),

		reconciled: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_reconciled_total",
				Help:      "The number of timed out payments re-checked by the reconciler",
			}, []string{"status"}),
	}
}

func (m *PaymentMetrics) IncPaymentStarted(mode string) {
	if m == nil {
		return
	}
	m.paymentsStarted.WithLabelValues(mode).Inc()
}

func (m *PaymentMetrics) ObservePaymentFinished(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.paymentsFinished.WithLabelValues(mode, outcome).Inc()
	m.paymentDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *PaymentMetrics) IncTokenFetch(result string) {
	if m == nil {
		return
	}
	m.tokenFetches.WithLabelValues(result).Inc()
}

func (m *PaymentMetrics) IncReceiptPoll(result string) {
	if m == nil {
		return
	}
	m.receiptPolls.WithLabelValues(result).Inc()
}

func (m *PaymentMetrics) IncReconciled(status string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(status).Inc()
}
