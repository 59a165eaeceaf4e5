package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consult_live_calls",
		Help: "Consultation calls currently holding an admission slot",
	})

	AdmissionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_admission_transitions_total",
		Help: "Call admission state transitions",
	}, []string{"from", "to"})

	PaymentVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_payment_verifications_total",
		Help: "Client payment verification outcomes",
	}, []string{"outcome"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_webhook_events_total",
		Help: "Gateway webhook events by type and processing status",
	}, []string{"event_type", "status"})

	WebhookSignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consult_webhook_signature_failures_total",
		Help: "Webhook deliveries rejected for a missing or invalid signature",
	})

	CompletionWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consult_completion_write_failures_total",
		Help: "Call completion records that could not be persisted after retries",
	})

	PricingFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consult_pricing_fallbacks_total",
		Help: "Quotes computed from the flat hourly rate",
	})
)
