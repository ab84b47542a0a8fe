package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prepspace/claimd/internal/domain"
)

// ─── Claim CRUD ─────────────────────────────────────────────────────────────

func TestInsertGetClaim(t *testing.T) {
	db := newTestDB(t)
	c := newTestClaim("clm-1", domain.StatusDraft)

	if err := db.InsertClaim(c, domain.ActionCreated, "damaged mixer"); err != nil {
		t.Fatalf("InsertClaim() error: %v", err)
	}

	got, err := db.GetClaim("clm-1")
	if err != nil {
		t.Fatalf("GetClaim() error: %v", err)
	}
	if got.Status != domain.StatusDraft {
		t.Errorf("status = %s, want draft", got.Status)
	}
	if got.ClaimedAmountCents != 5000 {
		t.Errorf("claimed = %d, want 5000", got.ClaimedAmountCents)
	}
	if got.ApprovedAmountCents != nil {
		t.Error("approved amount should be null before adjudication")
	}
	if got.ChefResponseDeadline.IsZero() {
		t.Error("deadline should round-trip")
	}

	hist, err := db.ListHistory("clm-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Fatalf("history entries = %d, want 1", len(hist))
	}
	if hist[0].Action != domain.ActionCreated {
		t.Errorf("action = %s, want created", hist[0].Action)
	}
}

func TestGetClaim_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetClaim("ghost")
	if !errors.Is(err, domain.ErrClaimNotFound) {
		t.Errorf("GetClaim(ghost) error = %v, want ErrClaimNotFound", err)
	}
}

// ─── Conditional Transitions ────────────────────────────────────────────────

func TestApplyTransition(t *testing.T) {
	db := newTestDB(t)
	c := newTestClaim("clm-1", domain.StatusSubmitted)
	db.InsertClaim(c, domain.ActionSubmitted, "")

	approved := int64(5000)
	now := time.Now()
	err := db.ApplyTransition(Transition{
		ClaimID:   "clm-1",
		From:      domain.StatusSubmitted,
		To:        domain.StatusApproved,
		Action:    domain.ActionChefAccepted,
		ActorRole: domain.RoleChef,
		ActorID:   "chef-1",
		Metadata:  map[string]string{"via": "chef_accepted"},
		Set: map[string]any{
			"approved_amount":   approved,
			"final_amount":      approved,
			"chef_responded_at": now,
		},
	})
	if err != nil {
		t.Fatalf("ApplyTransition() error: %v", err)
	}

	got, _ := db.GetClaim("clm-1")
	if got.Status != domain.StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if got.FinalAmountCents == nil || *got.FinalAmountCents != 5000 {
		t.Errorf("final amount = %v, want 5000", got.FinalAmountCents)
	}
	if got.ChefRespondedAt == nil {
		t.Error("chef_responded_at should be set")
	}

	hist, _ := db.ListHistory("clm-1")
	if len(hist) != 2 {
		t.Fatalf("history entries = %d, want 2 (one per transition, accept collapsed)", len(hist))
	}
	last := hist[len(hist)-1]
	if last.Metadata["via"] != "chef_accepted" {
		t.Errorf("metadata via = %q, want chef_accepted", last.Metadata["via"])
	}
}

func TestApplyTransition_Conflict(t *testing.T) {
	db := newTestDB(t)
	db.InsertClaim(newTestClaim("clm-1", domain.StatusSubmitted), domain.ActionSubmitted, "")

	first := Transition{
		ClaimID: "clm-1", From: domain.StatusSubmitted, To: domain.StatusUnderReview,
		Action: domain.ActionChefDisputed, ActorRole: domain.RoleChef, ActorID: "chef-1",
	}
	if err := db.ApplyTransition(first); err != nil {
		t.Fatalf("first transition error: %v", err)
	}

	// Second actor loses the race: precondition no longer holds.
	second := Transition{
		ClaimID: "clm-1", From: domain.StatusSubmitted, To: domain.StatusApproved,
		Action: domain.ActionChefAccepted, ActorRole: domain.RoleChef, ActorID: "chef-1",
	}
	err := db.ApplyTransition(second)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second transition error = %v, want ErrConflict", err)
	}

	// Losing write must not leave an audit entry.
	hist, _ := db.ListHistory("clm-1")
	if len(hist) != 2 {
		t.Errorf("history entries = %d, want 2", len(hist))
	}
}

func TestApplyTransition_NotFound(t *testing.T) {
	db := newTestDB(t)
	err := db.ApplyTransition(Transition{
		ClaimID: "ghost", From: domain.StatusSubmitted, To: domain.StatusApproved,
		Action: domain.ActionChefAccepted, ActorRole: domain.RoleChef,
	})
	if !errors.Is(err, domain.ErrClaimNotFound) {
		t.Errorf("error = %v, want ErrClaimNotFound", err)
	}
}

func TestApplyTransition_RejectsUnknownColumn(t *testing.T) {
	db := newTestDB(t)
	db.InsertClaim(newTestClaim("clm-1", domain.StatusSubmitted), domain.ActionSubmitted, "")
	err := db.ApplyTransition(Transition{
		ClaimID: "clm-1", From: domain.StatusSubmitted, To: domain.StatusApproved,
		Action: domain.ActionChefAccepted, ActorRole: domain.RoleChef,
		Set: map[string]any{"claimed_amount": int64(1)}, // immutable after creation
	})
	if err == nil {
		t.Error("setting a non-whitelisted column should fail")
	}
}

// ─── Draft Deletion ─────────────────────────────────────────────────────────

func TestDeleteDraftClaim(t *testing.T) {
	db := newTestDB(t)
	db.InsertClaim(newTestClaim("clm-1", domain.StatusDraft), domain.ActionCreated, "")

	if err := db.DeleteDraftClaim("clm-1"); err != nil {
		t.Fatalf("DeleteDraftClaim() error: %v", err)
	}
	if _, err := db.GetClaim("clm-1"); !errors.Is(err, domain.ErrClaimNotFound) {
		t.Error("claim should be gone after draft delete")
	}
}

func TestDeleteDraftClaim_PastDraft(t *testing.T) {
	db := newTestDB(t)
	db.InsertClaim(newTestClaim("clm-1", domain.StatusSubmitted), domain.ActionSubmitted, "")
	err := db.DeleteDraftClaim("clm-1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("delete of submitted claim error = %v, want ErrConflict", err)
	}
}

// ─── Expired Claims Query ───────────────────────────────────────────────────

func TestExpiredSubmittedClaims(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	past := newTestClaim("clm-past", domain.StatusSubmitted)
	past.ChefResponseDeadline = now.Add(-1 * time.Hour)
	db.InsertClaim(past, domain.ActionSubmitted, "")

	future := newTestClaim("clm-future", domain.StatusSubmitted)
	future.ChefResponseDeadline = now.Add(1 * time.Hour)
	db.InsertClaim(future, domain.ActionSubmitted, "")

	draft := newTestClaim("clm-draft", domain.StatusDraft)
	draft.ChefResponseDeadline = now.Add(-1 * time.Hour)
	db.InsertClaim(draft, domain.ActionCreated, "")

	expired, err := db.ExpiredSubmittedClaims(now, 100)
	if err != nil {
		t.Fatalf("ExpiredSubmittedClaims() error: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expired = %d, want 1", len(expired))
	}
	if expired[0].ID != "clm-past" {
		t.Errorf("expired[0] = %s, want clm-past", expired[0].ID)
	}
}

// ─── Evidence ───────────────────────────────────────────────────────────────

func TestEvidence(t *testing.T) {
	db := newTestDB(t)
	db.InsertClaim(newTestClaim("clm-1", domain.StatusDraft), domain.ActionCreated, "")

	amount := int64(12900)
	err := db.InsertEvidence(&domain.Evidence{
		ID: "ev-1", ClaimID: "clm-1", Kind: domain.EvidencePhoto,
		FileRef: "s3://claims/ev-1.jpg", UploaderID: "mgr-1", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertEvidence() error: %v", err)
	}
	db.InsertEvidence(&domain.Evidence{
		ID: "ev-2", ClaimID: "clm-1", Kind: domain.EvidenceReceipt,
		FileRef: "s3://claims/ev-2.pdf", UploaderID: "mgr-1",
		AmountCents: &amount, Vendor: "FixIt Appliance Repair",
		Note: "replacement door assembly", CreatedAt: time.Now(),
	})

	n, err := db.CountEvidence("clm-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountEvidence = %d, want 2", n)
	}

	list, err := db.ListEvidence("clm-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("ListEvidence = %d items, want 2", len(list))
	}
	if list[1].AmountCents == nil || *list[1].AmountCents != 12900 {
		t.Errorf("receipt amount = %v, want 12900", list[1].AmountCents)
	}
	if list[1].Note != "replacement door assembly" {
		t.Errorf("note = %q, want replacement door assembly", list[1].Note)
	}
	if list[0].Note != "" {
		t.Errorf("photo note = %q, want empty", list[0].Note)
	}
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

func TestLedgerTransaction_IdempotentByClaim(t *testing.T) {
	db := newTestDB(t)

	txn := domain.LedgerTransaction{
		ClaimID: "clm-1", ChargeRef: "ch_123",
		AmountCents: 5000, ServiceFeeCents: 175, ManagerRevenueCents: 4825,
	}
	id1, err := db.InsertLedgerTransaction(txn)
	if err != nil {
		t.Fatalf("InsertLedgerTransaction() error: %v", err)
	}
	id2, err := db.InsertLedgerTransaction(txn)
	if err != nil {
		t.Fatalf("second InsertLedgerTransaction() error: %v", err)
	}
	if id1 != id2 {
		t.Errorf("duplicate insert returned id %d, want %d", id2, id1)
	}
}

func TestLedgerFeesAndRefunds(t *testing.T) {
	db := newTestDB(t)
	db.InsertClaim(newTestClaim("clm-1", domain.StatusChargeSucceeded), domain.ActionChargeSucceeded, "")
	id, _ := db.InsertLedgerTransaction(domain.LedgerTransaction{
		ClaimID: "clm-1", ChargeRef: "ch_123",
		AmountCents: 5000, ServiceFeeCents: 175, ManagerRevenueCents: 4825,
	})

	// Reconcile with the gateway's actual fee.
	if err := db.UpdateLedgerFees(id, 146, 4854); err != nil {
		t.Fatalf("UpdateLedgerFees() error: %v", err)
	}
	err := db.ApplyRefund(Transition{
		ClaimID: "clm-1", From: domain.StatusChargeSucceeded, To: domain.StatusChargeSucceeded,
		Action: domain.ActionRefundIssued, ActorRole: domain.RoleAdmin, ActorID: "admin-1",
		Set: map[string]any{"refunded_amount": int64(2000)},
	}, 2000)
	if err != nil {
		t.Fatalf("ApplyRefund() error: %v", err)
	}

	got, err := db.GetLedgerTransaction("clm-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ServiceFeeCents != 146 {
		t.Errorf("service fee = %d, want 146", got.ServiceFeeCents)
	}
	if got.ManagerRevenueCents != 4854 {
		t.Errorf("manager revenue = %d, want 4854", got.ManagerRevenueCents)
	}
	if got.RefundedCents != 2000 {
		t.Errorf("refunded = %d, want 2000", got.RefundedCents)
	}

	// The claim row and the audit trail moved in the same commit.
	c, _ := db.GetClaim("clm-1")
	if c.RefundedAmountCents != 2000 {
		t.Errorf("claim refunded_amount = %d, want 2000", c.RefundedAmountCents)
	}
	hist, _ := db.ListHistory("clm-1")
	if hist[len(hist)-1].Action != domain.ActionRefundIssued {
		t.Errorf("last action = %s, want refund_issued", hist[len(hist)-1].Action)
	}
}

func TestApplyRefund_Atomic(t *testing.T) {
	db := newTestDB(t)
	db.InsertClaim(newTestClaim("clm-1", domain.StatusChargeSucceeded), domain.ActionChargeSucceeded, "")
	db.InsertLedgerTransaction(domain.LedgerTransaction{
		ClaimID: "clm-1", ChargeRef: "ch_123",
		AmountCents: 5000, ServiceFeeCents: 0, ManagerRevenueCents: 5000,
	})

	// Stale status precondition: the claim write fails, and the ledger
	// draw-down rolls back with it.
	err := db.ApplyRefund(Transition{
		ClaimID: "clm-1", From: domain.StatusChargePending, To: domain.StatusChargeSucceeded,
		Action: domain.ActionRefundIssued, ActorRole: domain.RoleAdmin,
		Set: map[string]any{"refunded_amount": int64(2000)},
	}, 2000)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("ApplyRefund() error = %v, want ErrConflict", err)
	}

	txn, _ := db.GetLedgerTransaction("clm-1")
	if txn.RefundedCents != 0 {
		t.Errorf("ledger refunded = %d, want 0 after rollback", txn.RefundedCents)
	}
	c, _ := db.GetClaim("clm-1")
	if c.RefundedAmountCents != 0 {
		t.Errorf("claim refunded_amount = %d, want 0", c.RefundedAmountCents)
	}
}

func TestApplyRefund_MissingTransaction(t *testing.T) {
	db := newTestDB(t)
	db.InsertClaim(newTestClaim("clm-1", domain.StatusChargeSucceeded), domain.ActionChargeSucceeded, "")

	err := db.ApplyRefund(Transition{
		ClaimID: "clm-1", From: domain.StatusChargeSucceeded, To: domain.StatusChargeSucceeded,
		Action: domain.ActionRefundIssued, ActorRole: domain.RoleAdmin,
		Set: map[string]any{"refunded_amount": int64(100)},
	}, 100)
	if !errors.Is(err, domain.ErrNotRefundable) {
		t.Fatalf("ApplyRefund() without ledger row error = %v, want ErrNotRefundable", err)
	}

	// No claim mutation, no audit entry.
	c, _ := db.GetClaim("clm-1")
	if c.RefundedAmountCents != 0 {
		t.Errorf("claim refunded_amount = %d, want 0", c.RefundedAmountCents)
	}
	hist, _ := db.ListHistory("clm-1")
	if len(hist) != 1 {
		t.Errorf("history entries = %d, want 1", len(hist))
	}
}

func TestGetLedgerTransaction_Missing(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetLedgerTransaction("ghost")
	if !errors.Is(err, domain.ErrNotRefundable) {
		t.Errorf("error = %v, want ErrNotRefundable", err)
	}
}

// ─── Bookings ───────────────────────────────────────────────────────────────

func TestBookings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	b := &domain.Booking{
		ID: "bk-1", Type: domain.BookingKitchen, Status: "confirmed",
		ChefID: "chef-1", ManagerID: "mgr-1", LocationID: "loc-1",
		PaymentCustomerRef: "cus_1", PaymentMethodRef: "pm_1",
	}
	if err := db.UpsertBooking(b); err != nil {
		t.Fatalf("UpsertBooking() error: %v", err)
	}

	got, err := db.GetBooking(ctx, domain.BookingKitchen, "bk-1")
	if err != nil {
		t.Fatalf("GetBooking() error: %v", err)
	}
	if !got.HasSavedPayment() {
		t.Error("booking should have saved payment")
	}

	// Upsert refreshes in place.
	b.Status = "cancelled"
	db.UpsertBooking(b)
	got, _ = db.GetBooking(ctx, domain.BookingKitchen, "bk-1")
	if got.Claimable() {
		t.Error("cancelled booking should not be claimable")
	}

	_, err = db.GetBooking(ctx, domain.BookingStorage, "bk-1")
	if !errors.Is(err, domain.ErrBookingNotFound) {
		t.Errorf("wrong-type lookup error = %v, want ErrBookingNotFound", err)
	}
}
