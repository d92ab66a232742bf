// services/payment-gateway/internal/service/metrics.go
package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"globalpay/services/payment-gateway/internal/models"
)

type Metrics struct {
	webhooks        *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	escalations     prometheus.Counter
	reconciled      *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	webhooks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "click_webhook_requests_total",
			Help: "Click callbacks handled, by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	webhookDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "click_webhook_duration_seconds",
			Help:    "Time spent handling a Click callback.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	escalations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "click_capture_escalations_total",
			Help: "Captures that failed after the reservation was consumed.",
		},
	)

	reconciled := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "click_capture_reconciliations_total",
			Help: "Reconciliation retries of escalated captures, by result.",
		},
		[]string{"result"}, // resolved | failed
	)

	registerer.MustRegister(webhooks, webhookDuration, escalations, reconciled)

	return &Metrics{
		webhooks:        webhooks,
		webhookDuration: webhookDuration,
		escalations:     escalations,
		reconciled:      reconciled,
	}
}

func (m *Metrics) ObserveWebhook(action models.Action, outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(action.String(), outcome.String()).Inc()
	m.webhookDuration.WithLabelValues(action.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) IncEscalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

func (m *Metrics) IncReconciled(result string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(result).Inc()
}
