package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refund outcomes used as the "outcome" label.
const (
	OutcomeSuccess         = "success"
	OutcomeChargeNotFound  = "charge_not_found"
	OutcomeAlreadyRefunded = "already_refunded"
	OutcomeError           = "error"
	OutcomeUnauthorized    = "unauthorized"
	OutcomeInvalid         = "invalid"
	OutcomeUnknownTx       = "unknown_transaction"
	OutcomeBusy            = "busy"
)

var (
	InvoicesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "donatebot_invoices_sent_total",
		Help: "Invoices sent after a donation amount was selected",
	})

	PaymentsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "donatebot_payments_recorded_total",
		Help: "Completed payments written to the ledger",
	})

	LedgerSaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "donatebot_ledger_save_failures_total",
		Help: "Ledger writes that failed",
	})

	Refunds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donatebot_refunds_total",
		Help: "Refund commands by outcome",
	}, []string{"outcome"})

	Updates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donatebot_updates_total",
		Help: "Inbound gateway updates by kind",
	}, []string{"kind"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "donatebot_http_request_duration_seconds",
		Help:    "Webhook server request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route", "status"})
)
