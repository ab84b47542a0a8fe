package refund

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prepspace/claimd/internal/domain"
	"github.com/prepspace/claimd/internal/infra/sqlite"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeGateway struct {
	mu        sync.Mutex
	refunds   []domain.RefundRequest
	refundErr error
}

func (g *fakeGateway) CreateCharge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	return &domain.ChargeResult{ID: "ch_1", Status: "succeeded"}, nil
}

func (g *fakeGateway) CreateRefund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return &domain.RefundResult{
		ID:          fmt.Sprintf("re_%d", len(g.refunds)),
		AmountCents: req.AmountCents,
		Status:      "succeeded",
	}, nil
}

func (g *fakeGateway) EstimateFeeCents(amountCents int64) int64 { return 0 }

func (g *fakeGateway) ActualFeeCents(ctx context.Context, chargeRef string) (int64, error) {
	return 0, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func newTestEngine(t *testing.T) (*Engine, *sqlite.DB, *fakeGateway) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	gw := &fakeGateway{}
	return New(db, gw, nil), db, gw
}

// settledClaim walks a claim to charge_succeeded and writes its ledger
// transaction with the given fee split.
func settledClaim(t *testing.T, db *sqlite.DB, id string, amount, fee int64) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	c := &domain.Claim{
		ID: id, BookingID: "bk-1", BookingType: domain.BookingKitchen,
		ChefID: "chef-1", ManagerID: "mgr-1", LocationID: "loc-1",
		Status: domain.StatusSubmitted, ClaimedAmountCents: amount,
		CreatedAt: now, ChefResponseDeadline: now.Add(72 * time.Hour), SubmittedAt: &now,
	}
	if err := db.InsertClaim(c, domain.ActionSubmitted, ""); err != nil {
		t.Fatalf("insert claim: %v", err)
	}

	steps := []sqlite.Transition{
		{From: domain.StatusSubmitted, To: domain.StatusApproved,
			Action: domain.ActionChefAccepted, ActorRole: domain.RoleChef,
			Set: map[string]any{"approved_amount": amount, "final_amount": amount}},
		{From: domain.StatusApproved, To: domain.StatusChargePending,
			Action: domain.ActionChargeAttempted, ActorRole: domain.RoleSystem,
			Set: map[string]any{"charge_attempted_at": now}},
		{From: domain.StatusChargePending, To: domain.StatusChargeSucceeded,
			Action: domain.ActionChargeSucceeded, ActorRole: domain.RoleSystem,
			Set: map[string]any{
				"charge_succeeded_at": now, "charge_ref": "ch_1",
				"resolved_at": now, "resolution_type": domain.ResolutionPaid,
			}},
	}
	for _, step := range steps {
		step.ClaimID = id
		if err := db.ApplyTransition(step); err != nil {
			t.Fatalf("transition to %s: %v", step.To, err)
		}
	}

	_, err := db.InsertLedgerTransaction(domain.LedgerTransaction{
		ClaimID: id, ChargeRef: "ch_1", AmountCents: amount,
		ServiceFeeCents: fee, ManagerRevenueCents: amount - fee,
	})
	if err != nil {
		t.Fatalf("insert ledger txn: %v", err)
	}
}

// ─── RefundableBalance ──────────────────────────────────────────────────────

func TestRefundableBalance(t *testing.T) {
	tests := []struct {
		name     string
		net      int64
		refunded int64
		want     int64
	}{
		{"untouched", 3854, 0, 3854},
		{"partially drawn", 3854, 2000, 1854},
		{"exhausted", 3854, 3854, 0},
		{"overdrawn clamps to zero", 3854, 4000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RefundableBalance(tt.net, tt.refunded); got != tt.want {
				t.Errorf("RefundableBalance(%d, %d) = %d, want %d", tt.net, tt.refunded, got, tt.want)
			}
		})
	}
}

// ─── Refund ─────────────────────────────────────────────────────────────────

func TestPartialRefund(t *testing.T) {
	e, db, gw := newTestEngine(t)
	// $50 charged, $11.46 fee: the manager netted $38.54.
	settledClaim(t, db, "c-1", 5000, 1146)

	res, err := e.Refund(context.Background(), Input{
		ClaimID: "c-1", AdminID: "admin-1", AmountCents: 2000, Reason: "repair cheaper than quoted",
	})
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if res.AmountCents != 2000 || res.RemainingBalanceCents != 1854 {
		t.Errorf("result = %d remaining %d, want 2000 remaining 1854", res.AmountCents, res.RemainingBalanceCents)
	}
	if res.Full {
		t.Error("partial refund reported as full")
	}

	c, _ := db.GetClaim("c-1")
	if c.Status != domain.StatusChargeSucceeded {
		t.Errorf("status = %v, want claim to stay %v", c.Status, domain.StatusChargeSucceeded)
	}
	if c.RefundedAmountCents != 2000 {
		t.Errorf("refunded = %d, want 2000", c.RefundedAmountCents)
	}
	if c.ResolutionType != domain.ResolutionPartiallyRefunded {
		t.Errorf("resolution = %v, want %v", c.ResolutionType, domain.ResolutionPartiallyRefunded)
	}

	if len(gw.refunds) != 1 || gw.refunds[0].ChargeRef != "ch_1" {
		t.Errorf("gateway refunds = %+v, want one against ch_1", gw.refunds)
	}

	// The ledger's cap counter moved with the claim, in the same commit.
	txn, err := db.GetLedgerTransaction("c-1")
	if err != nil {
		t.Fatalf("get ledger txn: %v", err)
	}
	if txn.RefundedCents != 2000 {
		t.Errorf("ledger refunded = %d, want 2000", txn.RefundedCents)
	}

	// The audit entry carries the refund reference and both balances.
	history, _ := db.ListHistory("c-1")
	last := history[len(history)-1]
	if last.Action != domain.ActionRefundIssued {
		t.Errorf("last action = %v, want %v", last.Action, domain.ActionRefundIssued)
	}
	if last.Metadata["refund_ref"] != "re_1" {
		t.Errorf("refund_ref = %q, want re_1", last.Metadata["refund_ref"])
	}
	if last.Metadata["pre_balance"] != "3854" || last.Metadata["post_balance"] != "1854" {
		t.Errorf("balances = %q/%q, want 3854/1854",
			last.Metadata["pre_balance"], last.Metadata["post_balance"])
	}
	// The partial-refund entry is the audit-only charge_succeeded
	// self-edge; the whole recorded walk stays inside the graph.
	for _, h := range history {
		if h.FromStatus == "" {
			continue
		}
		if !domain.CanTransition(h.FromStatus, h.ToStatus) {
			t.Errorf("history edge %v → %v is not legal", h.FromStatus, h.ToStatus)
		}
	}
}

func TestRefundExceedsBalance(t *testing.T) {
	e, db, gw := newTestEngine(t)
	settledClaim(t, db, "c-1", 5000, 1146) // net 3854

	_, err := e.Refund(context.Background(), Input{
		ClaimID: "c-1", AdminID: "admin-1", AmountCents: 4000,
	})
	if !domain.IsValidation(err) {
		t.Fatalf("Refund() error = %v, want validation error", err)
	}
	// Nothing moved.
	if len(gw.refunds) != 0 {
		t.Errorf("gateway refunds = %d, want 0", len(gw.refunds))
	}
	c, _ := db.GetClaim("c-1")
	if c.RefundedAmountCents != 0 {
		t.Errorf("refunded = %d, want 0", c.RefundedAmountCents)
	}
}

func TestSequentialRefundsDrawDownBalance(t *testing.T) {
	e, db, _ := newTestEngine(t)
	settledClaim(t, db, "c-1", 5000, 1146) // net 3854
	ctx := context.Background()

	if _, err := e.Refund(ctx, Input{ClaimID: "c-1", AdminID: "admin-1", AmountCents: 2000}); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	res, err := e.Refund(ctx, Input{ClaimID: "c-1", AdminID: "admin-1", AmountCents: 1854})
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if res.RemainingBalanceCents != 0 {
		t.Errorf("remaining = %d, want 0", res.RemainingBalanceCents)
	}
	// The fee is sunk: 3854 refunded of 5000 charged never reaches
	// "full", so the claim stays settled rather than closing as refunded.
	if res.Full {
		t.Error("fee-capped refund reported as full")
	}

	// Balance exhausted — even a cent more is rejected.
	if _, err := e.Refund(ctx, Input{ClaimID: "c-1", AdminID: "admin-1", AmountCents: 1}); !domain.IsValidation(err) {
		t.Errorf("over-balance refund error = %v, want validation error", err)
	}
}

func TestFullRefundClosesClaim(t *testing.T) {
	e, db, _ := newTestEngine(t)
	// No destination account, no fee: the full charge is refundable.
	settledClaim(t, db, "c-1", 5000, 0)

	res, err := e.Refund(context.Background(), Input{
		ClaimID: "c-1", AdminID: "admin-1", AmountCents: 5000, Reason: "claim filed in error",
	})
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if !res.Full {
		t.Error("full refund not reported as full")
	}

	c, _ := db.GetClaim("c-1")
	if c.Status != domain.StatusResolved {
		t.Errorf("status = %v, want %v", c.Status, domain.StatusResolved)
	}
	if c.ResolutionType != domain.ResolutionRefunded {
		t.Errorf("resolution = %v, want %v", c.ResolutionType, domain.ResolutionRefunded)
	}
	if c.ResolvedAt == nil {
		t.Error("resolved_at not set")
	}
}

func TestRefundGuards(t *testing.T) {
	e, db, _ := newTestEngine(t)
	ctx := context.Background()

	// Claim not settled.
	now := time.Now().UTC().Truncate(time.Second)
	draft := &domain.Claim{
		ID: "c-draft", BookingID: "bk-1", BookingType: domain.BookingKitchen,
		ChefID: "chef-1", ManagerID: "mgr-1", LocationID: "loc-1",
		Status: domain.StatusDraft, ClaimedAmountCents: 5000,
		CreatedAt: now, ChefResponseDeadline: now.Add(72 * time.Hour),
	}
	if err := db.InsertClaim(draft, domain.ActionCreated, ""); err != nil {
		t.Fatalf("insert claim: %v", err)
	}
	if _, err := e.Refund(ctx, Input{ClaimID: "c-draft", AdminID: "admin-1", AmountCents: 100}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("refund on draft error = %v, want ErrConflict", err)
	}

	// Non-positive amount.
	settledClaim(t, db, "c-1", 5000, 0)
	for _, amount := range []int64{0, -500} {
		if _, err := e.Refund(ctx, Input{ClaimID: "c-1", AdminID: "admin-1", AmountCents: amount}); !domain.IsValidation(err) {
			t.Errorf("refund of %d error = %v, want validation error", amount, err)
		}
	}

	// Unknown claim.
	if _, err := e.Refund(ctx, Input{ClaimID: "nope", AdminID: "admin-1", AmountCents: 100}); !errors.Is(err, domain.ErrClaimNotFound) {
		t.Errorf("refund on missing claim error = %v, want ErrClaimNotFound", err)
	}
}

func TestRefundGatewayFailureLeavesState(t *testing.T) {
	e, db, gw := newTestEngine(t)
	settledClaim(t, db, "c-1", 5000, 0)
	gw.refundErr = errors.New("gateway unavailable")

	_, err := e.Refund(context.Background(), Input{ClaimID: "c-1", AdminID: "admin-1", AmountCents: 1000})
	if err == nil {
		t.Fatal("Refund() expected error")
	}

	// No money moved, no state changed, no audit entry written.
	c, _ := db.GetClaim("c-1")
	if c.Status != domain.StatusChargeSucceeded || c.RefundedAmountCents != 0 {
		t.Errorf("claim mutated on gateway failure: status=%v refunded=%d", c.Status, c.RefundedAmountCents)
	}
	txn, _ := db.GetLedgerTransaction("c-1")
	if txn.RefundedCents != 0 {
		t.Errorf("ledger refunded = %d, want 0", txn.RefundedCents)
	}
}
