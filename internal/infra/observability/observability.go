// Package observability holds the Prometheus metrics for the claim
// settlement engine. Metrics are registered via promauto and exposed on
// the API's /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Lifecycle Metrics ──────────────────────────────────────────────────────

// ClaimTransitions counts status transitions by action.
var ClaimTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "claimd",
	Subsystem: "lifecycle",
	Name:      "transitions_total",
	Help:      "Total claim status transitions by action.",
}, []string{"action"})

// TransitionConflicts counts conditional updates that lost a race.
var TransitionConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "claimd",
	Subsystem: "lifecycle",
	Name:      "transition_conflicts_total",
	Help:      "Total transitions rejected because the status precondition failed.",
})

// ─── Capture Metrics ────────────────────────────────────────────────────────

// ChargeAttempts counts charge attempts by outcome.
var ChargeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "claimd",
	Subsystem: "capture",
	Name:      "charge_attempts_total",
	Help:      "Total payment capture attempts by outcome.",
}, []string{"outcome"})

// ChargedCents accumulates successfully captured minor currency units.
var ChargedCents = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "claimd",
	Subsystem: "capture",
	Name:      "charged_cents_total",
	Help:      "Total minor currency units successfully captured.",
})

// PaymentMethodSource counts which resolver supplied the charged method.
var PaymentMethodSource = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "claimd",
	Subsystem: "capture",
	Name:      "payment_method_source_total",
	Help:      "Payment method resolutions by source (primary_booking, linked_storage_booking).",
}, []string{"source"})

// ─── Refund Metrics ─────────────────────────────────────────────────────────

// RefundsIssued counts refunds by kind (full, partial).
var RefundsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "claimd",
	Subsystem: "refund",
	Name:      "refunds_total",
	Help:      "Total refunds issued by kind.",
}, []string{"kind"})

// RefundedCents accumulates refunded minor currency units.
var RefundedCents = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "claimd",
	Subsystem: "refund",
	Name:      "refunded_cents_total",
	Help:      "Total minor currency units refunded.",
})

// ─── Sweeper Metrics ────────────────────────────────────────────────────────

// SweepRuns counts sweeper executions.
var SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "claimd",
	Subsystem: "sweeper",
	Name:      "runs_total",
	Help:      "Total deadline sweep runs.",
})

// SweepExpirations counts claims force-approved by the sweeper.
var SweepExpirations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "claimd",
	Subsystem: "sweeper",
	Name:      "expirations_total",
	Help:      "Total claims auto-approved after the chef response deadline lapsed.",
})

// SweepErrors counts per-claim sweep failures (the sweep itself continues).
var SweepErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "claimd",
	Subsystem: "sweeper",
	Name:      "errors_total",
	Help:      "Total per-claim failures during deadline sweeps.",
})

// SweepDuration observes full-sweep wall time.
var SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "claimd",
	Subsystem: "sweeper",
	Name:      "duration_seconds",
	Help:      "Wall time of a full deadline sweep.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
})

// ─── Side-Effect Metrics ────────────────────────────────────────────────────

// NotifyFailures counts notification dispatch failures (logged, never fatal).
var NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "claimd",
	Subsystem: "notify",
	Name:      "failures_total",
	Help:      "Total notification dispatch failures.",
})

// LedgerSyncFailures counts ledger reconciliation failures.
var LedgerSyncFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "claimd",
	Subsystem: "ledger",
	Name:      "sync_failures_total",
	Help:      "Total ledger record/reconcile failures.",
})
