// Package capture is the payment capture engine: it turns an adjudicated
// claim into an actual off-session charge against the chef's saved
// payment instrument.
//
// The engine never infers "probably succeeded" — the claim only moves to
// charge_succeeded after the gateway's authoritative response reports
// terminal success. Failures of any kind are absorbed into claim state
// (charge_failed) rather than propagated; the claim row is the durable
// representation of the failure.
package capture

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prepspace/claimd/internal/domain"
	"github.com/prepspace/claimd/internal/infra/observability"
	"github.com/prepspace/claimd/internal/infra/sqlite"
)

// Config controls the capture engine.
type Config struct {
	Currency string // ISO 4217, e.g. "usd"
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Currency: "usd"}
}

// Engine performs payment captures.
type Engine struct {
	cfg      Config
	db       *sqlite.DB
	gateway  domain.PaymentGateway
	ledger   domain.Ledger
	notifier domain.Notifier
	bookings domain.BookingDirectory

	// now is swapped in tests to exercise the calendar-day idempotency
	// window.
	now func() time.Time

	wg sync.WaitGroup // tracks async fee reconciliations
}

// New creates a capture engine. The gateway is injected so tests run
// against a fake.
func New(cfg Config, db *sqlite.DB, gateway domain.PaymentGateway, ledger domain.Ledger, notifier domain.Notifier, bookings domain.BookingDirectory) *Engine {
	return &Engine{
		cfg:      cfg,
		db:       db,
		gateway:  gateway,
		ledger:   ledger,
		notifier: notifier,
		bookings: bookings,
		now:      time.Now,
	}
}

// Wait blocks until in-flight fee reconciliations finish. Used by
// shutdown and tests.
func (e *Engine) Wait() { e.wg.Wait() }

// IdempotencyKey derives the gateway dedup key for a claim on a given
// day. Same-day retries are deduplicated by the gateway; a fresh charge
// attempt on a later day (after investigation) gets a new key.
func IdempotencyKey(claimID string, day time.Time) string {
	return fmt.Sprintf("claim:%s:%s", claimID, day.UTC().Format("2006-01-02"))
}

// ─── Payment Method Resolution ──────────────────────────────────────────────

// methodResolution is the outcome of the ordered resolver chain.
type methodResolution struct {
	CustomerRef string
	MethodRef   string
	Source      string // primary_booking | linked_storage_booking | submit_snapshot
}

// resolveMethod finds a chargeable customer/method pair for the claim.
// Order: the snapshot taken at submission, then the claim's own booking,
// then a linked sibling storage booking. The chosen source is tagged,
// never silent.
func (e *Engine) resolveMethod(ctx context.Context, c *domain.Claim) (*methodResolution, error) {
	if c.PaymentCustomerRef != "" && c.PaymentMethodRef != "" {
		source := c.PaymentSource
		if source == "" {
			source = "submit_snapshot"
		}
		return &methodResolution{
			CustomerRef: c.PaymentCustomerRef,
			MethodRef:   c.PaymentMethodRef,
			Source:      source,
		}, nil
	}

	booking, err := e.bookings.GetBooking(ctx, c.BookingType, c.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.HasSavedPayment() {
		return &methodResolution{
			CustomerRef: booking.PaymentCustomerRef,
			MethodRef:   booking.PaymentMethodRef,
			Source:      "primary_booking",
		}, nil
	}
	if booking.LinkedStorageBookingID != "" {
		linked, err := e.bookings.GetBooking(ctx, domain.BookingStorage, booking.LinkedStorageBookingID)
		if err == nil && linked.HasSavedPayment() {
			return &methodResolution{
				CustomerRef: linked.PaymentCustomerRef,
				MethodRef:   linked.PaymentMethodRef,
				Source:      "linked_storage_booking",
			}, nil
		}
	}
	return nil, domain.ErrNoPaymentMethod
}

// ─── Capture ────────────────────────────────────────────────────────────────

// Capture charges the chef for an adjudicated claim.
//
// Legal entry states: approved, partially_approved (automatic trigger)
// and charge_failed (manual recharge). A gateway decline or error leaves
// the claim in charge_failed and returns nil — the claim state carries
// the failure. Non-nil errors are infrastructure problems (store,
// conflict) the caller may act on.
func (e *Engine) Capture(ctx context.Context, claimID string) error {
	c, err := e.db.GetClaim(claimID)
	if err != nil {
		return err
	}

	switch c.Status {
	case domain.StatusApproved, domain.StatusPartiallyApproved, domain.StatusChargeFailed:
	default:
		return fmt.Errorf("capture requires an adjudicated claim, got %s: %w", c.Status, domain.ErrConflict)
	}
	if c.FinalAmountCents == nil || *c.FinalAmountCents <= 0 {
		return domain.Validationf("final_amount", "nothing to charge")
	}
	amount := *c.FinalAmountCents

	// Resolve a payment instrument. No instrument means a human must
	// intervene: the claim fails terminally-but-retryably, no auto-retry.
	method, err := e.resolveMethod(ctx, c)
	if err == domain.ErrNoPaymentMethod {
		return e.failCharge(ctx, c, "no saved payment method")
	}
	if err != nil {
		return err
	}
	log.Printf("[capture] claim %s: payment method via %s", c.ID, method.Source)
	observability.PaymentMethodSource.WithLabelValues(method.Source).Inc()

	// Destination account for split settlement, if the manager is
	// onboarded. The break-even fee exists only with a destination.
	// A directory failure is not "not onboarded": abort before any
	// transition so the claim stays re-chargeable.
	booking, err := e.bookings.GetBooking(ctx, c.BookingType, c.BookingID)
	if err != nil {
		return fmt.Errorf("resolve destination account: %w", err)
	}
	destination := booking.ManagerAccountRef
	var fee int64
	if destination != "" {
		fee = e.gateway.EstimateFeeCents(amount)
	}

	now := e.now().UTC()
	err = e.db.ApplyTransition(sqlite.Transition{
		ClaimID:   c.ID,
		From:      c.Status,
		To:        domain.StatusChargePending,
		Action:    domain.ActionChargeAttempted,
		ActorRole: domain.RoleSystem,
		Metadata: map[string]string{
			"payment_source":  method.Source,
			"application_fee": fmt.Sprintf("%d", fee),
		},
		Set: map[string]any{
			"charge_attempted_at":  now,
			"payment_customer_ref": method.CustomerRef,
			"payment_method_ref":   method.MethodRef,
			"payment_source":       method.Source,
		},
	})
	if err != nil {
		return err
	}

	result, err := e.gateway.CreateCharge(ctx, domain.ChargeRequest{
		AmountCents:         amount,
		Currency:            e.cfg.Currency,
		CustomerRef:         method.CustomerRef,
		PaymentMethodRef:    method.MethodRef,
		DestinationAccount:  destination,
		ApplicationFeeCents: fee,
		IdempotencyKey:      IdempotencyKey(c.ID, now),
		Metadata: map[string]string{
			"claim_id":   c.ID,
			"booking_id": c.BookingID,
		},
	})
	if err != nil {
		// Timeout or transport error: surfaces as a capture failure,
		// never a claim stuck silently in charge_pending.
		return e.failPendingCharge(ctx, c, fmt.Sprintf("gateway error: %v", err))
	}
	if !result.Succeeded() {
		return e.failPendingCharge(ctx, c, fmt.Sprintf("gateway returned status %q", result.Status))
	}

	// Record the movement before flipping status; the ledger insert is
	// idempotent by claim id, so a crash between the two is re-runnable.
	txnID, err := e.ledger.RecordTransaction(ctx, domain.LedgerTransaction{
		ClaimID:             c.ID,
		ChargeRef:           result.ID,
		AmountCents:         amount,
		ServiceFeeCents:     fee,
		ManagerRevenueCents: amount - fee,
	})
	if err != nil {
		observability.LedgerSyncFailures.Inc()
		log.Printf("[capture] claim %s: ledger record failed: %v", c.ID, err)
	}

	err = e.db.ApplyTransition(sqlite.Transition{
		ClaimID:   c.ID,
		From:      domain.StatusChargePending,
		To:        domain.StatusChargeSucceeded,
		Action:    domain.ActionChargeSucceeded,
		ActorRole: domain.RoleSystem,
		Metadata: map[string]string{
			"charge_ref": result.ID,
		},
		Set: map[string]any{
			"charge_succeeded_at": now,
			"charge_ref":          result.ID,
			"resolved_at":         now,
			"resolution_type":     domain.ResolutionPaid,
			"ledger_txn_id":       txnID,
		},
	})
	if err != nil {
		return err
	}

	observability.ChargeAttempts.WithLabelValues("succeeded").Inc()
	observability.ChargedCents.Add(float64(amount))
	log.Printf("[capture] claim %s: charged %d cents, charge=%s fee=%d", c.ID, amount, result.ID, fee)

	e.notify(ctx, "claim_charged", c.ManagerID, c, amount)
	e.notify(ctx, "claim_charged", c.ChefID, c, amount)

	// Reconcile the actual gateway-reported fee without blocking.
	e.wg.Add(1)
	go e.reconcileFee(txnID, result.ID, amount)

	return nil
}

// reconcileFee corrects the ledger once the gateway reports the real
// processing fee for the charge.
func (e *Engine) reconcileFee(txnID int64, chargeRef string, amount int64) {
	defer e.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	actual, err := e.gateway.ActualFeeCents(ctx, chargeRef)
	if err != nil {
		observability.LedgerSyncFailures.Inc()
		log.Printf("[capture] charge %s: fee reconciliation failed: %v", chargeRef, err)
		return
	}
	if err := e.ledger.UpdateTransaction(ctx, txnID, actual, amount-actual); err != nil {
		observability.LedgerSyncFailures.Inc()
		log.Printf("[capture] charge %s: ledger update failed: %v", chargeRef, err)
	}
}

// failCharge moves an adjudicated claim straight to charge_failed
// (used when no charge was attempted, e.g. no payment method).
func (e *Engine) failCharge(ctx context.Context, c *domain.Claim, reason string) error {
	now := e.now().UTC()
	err := e.db.ApplyTransition(sqlite.Transition{
		ClaimID:   c.ID,
		From:      c.Status,
		To:        domain.StatusChargeFailed,
		Action:    domain.ActionChargeFailed,
		ActorRole: domain.RoleSystem,
		Note:      reason,
		Set: map[string]any{
			"charge_failed_at":      now,
			"charge_failure_reason": reason,
		},
	})
	if err != nil {
		return err
	}
	observability.ChargeAttempts.WithLabelValues("failed").Inc()
	log.Printf("[capture] claim %s: charge failed: %s", c.ID, reason)
	e.notify(ctx, "claim_charge_failed", c.ManagerID, c, 0)
	return nil
}

// failPendingCharge records a decline/error for a charge already in
// flight (charge_pending → charge_failed).
func (e *Engine) failPendingCharge(ctx context.Context, c *domain.Claim, reason string) error {
	now := e.now().UTC()
	err := e.db.ApplyTransition(sqlite.Transition{
		ClaimID:   c.ID,
		From:      domain.StatusChargePending,
		To:        domain.StatusChargeFailed,
		Action:    domain.ActionChargeFailed,
		ActorRole: domain.RoleSystem,
		Note:      reason,
		Set: map[string]any{
			"charge_failed_at":      now,
			"charge_failure_reason": reason,
		},
	})
	if err != nil {
		return err
	}
	observability.ChargeAttempts.WithLabelValues("failed").Inc()
	log.Printf("[capture] claim %s: charge failed: %s", c.ID, reason)
	e.notify(ctx, "claim_charge_failed", c.ManagerID, c, 0)
	return nil
}

func (e *Engine) notify(ctx context.Context, eventKind, recipientID string, c *domain.Claim, amount int64) {
	if e.notifier == nil {
		return
	}
	payload := map[string]any{
		"claim_id": c.ID,
		"amount":   amount,
	}
	if err := e.notifier.Notify(ctx, eventKind, recipientID, payload); err != nil {
		observability.NotifyFailures.Inc()
		log.Printf("[capture] notify %s to %s failed: %v", eventKind, recipientID, err)
	}
}
