// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import "time"

// ─── Claim Status ───────────────────────────────────────────────────────────

// Status is the durable lifecycle state of a claim.
//
// A claim advances through statuses only via named operations; the durable
// row never holds an intermediate value. Chef acceptance collapses into a
// single submitted → approved write (the acceptance itself is recorded as
// history metadata, not as a row state).
type Status string

const (
	StatusDraft             Status = "draft"
	StatusSubmitted         Status = "submitted"
	StatusUnderReview       Status = "under_review"
	StatusApproved          Status = "approved"
	StatusPartiallyApproved Status = "partially_approved"
	StatusRejected          Status = "rejected"
	StatusChargePending     Status = "charge_pending"
	StatusChargeSucceeded   Status = "charge_succeeded"
	StatusChargeFailed      Status = "charge_failed"
	StatusResolved          Status = "resolved"
)

// transitions is the legal transition graph. Missing keys are terminal.
//
// The two charge outcomes carry audit-only self-edges: a repeated
// no-method recharge records charge_failed → charge_failed, and a
// partial refund records charge_succeeded → charge_succeeded. The row
// state does not change, but the history entry is still a legal edge.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusSubmitted},
	StatusSubmitted: {StatusApproved, StatusUnderReview},
	StatusUnderReview: {
		StatusApproved, StatusPartiallyApproved, StatusRejected,
	},
	StatusApproved:          {StatusChargePending, StatusChargeFailed},
	StatusPartiallyApproved: {StatusChargePending, StatusChargeFailed},
	StatusChargePending:     {StatusChargeSucceeded, StatusChargeFailed},
	StatusChargeFailed:      {StatusChargePending, StatusChargeFailed},
	StatusChargeSucceeded:   {StatusResolved, StatusChargeSucceeded},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further status transition is legal.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview, StatusApproved,
		StatusPartiallyApproved, StatusRejected, StatusChargePending,
		StatusChargeSucceeded, StatusChargeFailed, StatusResolved:
		return true
	}
	return false
}

// ─── Resolution ─────────────────────────────────────────────────────────────

// ResolutionType records how a settled claim was closed out.
type ResolutionType string

const (
	ResolutionPaid              ResolutionType = "paid"
	ResolutionRejected          ResolutionType = "rejected"
	ResolutionRefunded          ResolutionType = "refunded"
	ResolutionPartiallyRefunded ResolutionType = "partially_refunded"
)

// ─── Actors ─────────────────────────────────────────────────────────────────

// ActorRole identifies who performed a transition.
type ActorRole string

const (
	RoleManager ActorRole = "manager"
	RoleChef    ActorRole = "chef"
	RoleAdmin   ActorRole = "admin"
	RoleSystem  ActorRole = "system"
)

// ─── Bookings ───────────────────────────────────────────────────────────────

// BookingType distinguishes the two booking kinds a claim can reference.
// A claim references exactly one booking — kitchen or storage, never both.
type BookingType string

const (
	BookingKitchen BookingType = "kitchen"
	BookingStorage BookingType = "storage"
)

// Booking is the engine's view of a booking record. The booking subsystem
// itself (pricing, availability, checkout) is an external collaborator;
// the claim engine only reads the fields it validates or charges against.
type Booking struct {
	ID         string      `json:"id"`
	Type       BookingType `json:"type"`
	Status     string      `json:"status"`
	ChefID     string      `json:"chef_id"`
	ManagerID  string      `json:"manager_id"`
	LocationID string      `json:"location_id"`

	// Saved off-session payment instrument (gateway customer/method pair).
	// Either both are set or both are empty.
	PaymentCustomerRef string `json:"payment_customer_ref,omitempty"`
	PaymentMethodRef   string `json:"payment_method_ref,omitempty"`

	// Manager's connected account for split settlement, if onboarded.
	ManagerAccountRef string `json:"manager_account_ref,omitempty"`

	// Kitchen bookings may link a sibling storage booking whose saved
	// payment instrument serves as a charge fallback.
	LinkedStorageBookingID string `json:"linked_storage_booking_id,omitempty"`
}

// Booking statuses a claim may not be filed against.
const (
	BookingCancelled = "cancelled"
	BookingRefunded  = "refunded"
	BookingRejected  = "rejected"
)

// Claimable reports whether a claim may be filed against this booking.
func (b *Booking) Claimable() bool {
	switch b.Status {
	case BookingCancelled, BookingRefunded, BookingRejected:
		return false
	}
	return true
}

// HasSavedPayment reports whether the booking carries a usable
// customer/method pair for an off-session charge.
func (b *Booking) HasSavedPayment() bool {
	return b.PaymentCustomerRef != "" && b.PaymentMethodRef != ""
}

// ─── Claim ──────────────────────────────────────────────────────────────────

// Claim is the aggregate root of the damage-claim workflow.
// All amounts are integer minor-currency units (cents).
type Claim struct {
	ID          string      `json:"id"`
	BookingID   string      `json:"booking_id"`
	BookingType BookingType `json:"booking_type"`
	ChefID      string      `json:"chef_id"`
	ManagerID   string      `json:"manager_id"`
	LocationID  string      `json:"location_id"`

	Status      Status `json:"status"`
	Description string `json:"description,omitempty"`

	ClaimedAmountCents  int64  `json:"claimed_amount_cents"`
	ApprovedAmountCents *int64 `json:"approved_amount_cents,omitempty"`
	FinalAmountCents    *int64 `json:"final_amount_cents,omitempty"`

	CreatedAt           time.Time  `json:"created_at"`
	ChefResponseDeadline time.Time `json:"chef_response_deadline"`
	SubmittedAt         *time.Time `json:"submitted_at,omitempty"`
	ChefRespondedAt     *time.Time `json:"chef_responded_at,omitempty"`
	AdminReviewedAt     *time.Time `json:"admin_reviewed_at,omitempty"`
	ChargeAttemptedAt   *time.Time `json:"charge_attempted_at,omitempty"`
	ChargeSucceededAt   *time.Time `json:"charge_succeeded_at,omitempty"`
	ChargeFailedAt      *time.Time `json:"charge_failed_at,omitempty"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`

	ResolutionType  ResolutionType `json:"resolution_type,omitempty"`
	ResolutionNotes string         `json:"resolution_notes,omitempty"`

	// Payment linkage. The customer/method pair is snapshotted at submit
	// time so later booking mutations cannot change what gets charged.
	PaymentCustomerRef string `json:"payment_customer_ref,omitempty"`
	PaymentMethodRef   string `json:"payment_method_ref,omitempty"`
	PaymentSource      string `json:"payment_source,omitempty"` // which resolver supplied the pair
	ChargeRef          string `json:"charge_ref,omitempty"`
	ChargeFailureReason string `json:"charge_failure_reason,omitempty"`
	LedgerTxnID        int64  `json:"ledger_txn_id,omitempty"`

	RefundedAmountCents int64 `json:"refunded_amount_cents"`
}

// AmountsConsistent verifies finalAmount ≤ approvedAmount ≤ claimedAmount
// for whichever of the nullable amounts are set.
func (c *Claim) AmountsConsistent() bool {
	if c.ApprovedAmountCents != nil && *c.ApprovedAmountCents > c.ClaimedAmountCents {
		return false
	}
	if c.FinalAmountCents != nil {
		if c.ApprovedAmountCents == nil {
			return false
		}
		if *c.FinalAmountCents > *c.ApprovedAmountCents {
			return false
		}
	}
	return true
}

// Adjudicated reports whether the claim has passed adjudication
// (chef acceptance, deadline expiry, or an admin decision).
func (c *Claim) Adjudicated() bool {
	switch c.Status {
	case StatusDraft, StatusSubmitted, StatusUnderReview:
		return false
	}
	return true
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

// LedgerTransaction is the accounting record created once per successful
// charge. ServiceFee holds the platform's break-even fee; ManagerRevenue
// is the manager's net. The two always sum to the charged amount.
type LedgerTransaction struct {
	ID             int64     `json:"id"`
	ClaimID        string    `json:"claim_id"`
	ChargeRef      string    `json:"charge_ref"`
	AmountCents    int64     `json:"amount_cents"`
	ServiceFeeCents int64    `json:"service_fee_cents"`
	ManagerRevenueCents int64 `json:"manager_revenue_cents"`
	RefundedCents  int64     `json:"refunded_cents"`
	CreatedAt      time.Time `json:"created_at"`
}
