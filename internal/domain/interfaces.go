package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// ChargeRequest is an off-session charge against a saved instrument.
type ChargeRequest struct {
	AmountCents        int64
	Currency           string
	CustomerRef        string
	PaymentMethodRef   string
	DestinationAccount string // manager's connected account, optional
	ApplicationFeeCents int64 // break-even platform fee, 0 without destination
	IdempotencyKey     string
	Metadata           map[string]string
}

// ChargeResult is the gateway's authoritative charge outcome.
// Only Status == "succeeded" is terminal success; any other value is a
// failure requiring manual follow-up.
type ChargeResult struct {
	ID     string
	Status string
}

// Succeeded reports terminal gateway success.
func (r *ChargeResult) Succeeded() bool { return r.Status == "succeeded" }

// RefundRequest reverses part or all of a captured charge.
type RefundRequest struct {
	ChargeRef   string
	AmountCents int64
	Reason      string
	Metadata    map[string]string
}

// RefundResult is the gateway's refund outcome.
type RefundResult struct {
	ID          string
	AmountCents int64
	Status      string
}

// PaymentGateway abstracts the payment processor. The concrete client is
// injected at engine construction so tests run against a fake.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)

	// EstimateFeeCents returns the gateway's processing-fee estimate for
	// a charge of the given amount (percentage + fixed component).
	EstimateFeeCents(amountCents int64) int64

	// ActualFeeCents returns the gateway-reported fee for a settled
	// charge, used to reconcile the ledger after the fact.
	ActualFeeCents(ctx context.Context, chargeRef string) (int64, error)
}

// Notifier dispatches user-facing notifications. Calls are fire-and-forget:
// a dispatch failure is logged by the caller and never rolls back state.
type Notifier interface {
	Notify(ctx context.Context, eventKind, recipientID string, payload map[string]any) error
}

// Ledger records money movement for accounting. Both calls are idempotent
// by claim id.
type Ledger interface {
	RecordTransaction(ctx context.Context, txn LedgerTransaction) (int64, error)
	UpdateTransaction(ctx context.Context, id int64, serviceFeeCents, managerRevenueCents int64) error
}

// BookingDirectory resolves booking records. The booking subsystem is an
// external collaborator; the engine only reads.
type BookingDirectory interface {
	GetBooking(ctx context.Context, bookingType BookingType, id string) (*Booking, error)
}
