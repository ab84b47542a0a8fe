// Package refund reverses previously captured charges.
//
// The refundable cap is the manager's remaining net balance from the
// original transaction: managerNetReceived − alreadyRefunded. It is NOT
// a proportional fee-adjusted figure — the gateway's processing fee is a
// sunk cost that is never returned, so refunds draw down the net, not
// the gross. A refund always debits the manager and credits the customer
// by the same amount.
package refund

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prepspace/claimd/internal/domain"
	"github.com/prepspace/claimd/internal/infra/observability"
	"github.com/prepspace/claimd/internal/infra/sqlite"
)

// Engine issues refunds against captured claims.
type Engine struct {
	db       *sqlite.DB
	gateway  domain.PaymentGateway
	notifier domain.Notifier
}

// New creates a refund engine.
func New(db *sqlite.DB, gateway domain.PaymentGateway, notifier domain.Notifier) *Engine {
	return &Engine{db: db, gateway: gateway, notifier: notifier}
}

// RefundableBalance computes how much of a transaction can still be
// refunded.
func RefundableBalance(managerNetReceived, alreadyRefunded int64) int64 {
	remaining := managerNetReceived - alreadyRefunded
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Input describes one refund request.
type Input struct {
	ClaimID     string
	AdminID     string
	AmountCents int64
	Reason      string
}

// Result reports the issued refund.
type Result struct {
	RefundRef             string `json:"refund_ref"`
	AmountCents           int64  `json:"amount_cents"`
	RemainingBalanceCents int64  `json:"remaining_balance_cents"`
	Full                  bool   `json:"full"`
}

// Refund reverses part or all of a claim's captured charge.
// Legal only from charge_succeeded. A refund that covers the full
// charged amount closes the claim as resolved/refunded; a partial
// refund records partially_refunded without leaving the settled state.
func (e *Engine) Refund(ctx context.Context, in Input) (*Result, error) {
	c, err := e.db.GetClaim(in.ClaimID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.StatusChargeSucceeded {
		return nil, fmt.Errorf("refund requires charge_succeeded, claim is %s: %w", c.Status, domain.ErrConflict)
	}
	if in.AmountCents <= 0 {
		return nil, domain.Validationf("amount", "must be positive")
	}

	txn, err := e.db.GetLedgerTransaction(in.ClaimID)
	if err != nil {
		return nil, err
	}

	balance := RefundableBalance(txn.ManagerRevenueCents, txn.RefundedCents)
	if in.AmountCents > balance {
		return nil, domain.Validationf("amount",
			"exceeds refundable balance: requested %d, remaining %d", in.AmountCents, balance)
	}

	res, err := e.gateway.CreateRefund(ctx, domain.RefundRequest{
		ChargeRef:   c.ChargeRef,
		AmountCents: in.AmountCents,
		Reason:      in.Reason,
		Metadata:    map[string]string{"claim_id": c.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("gateway refund: %w", err)
	}

	newRefunded := c.RefundedAmountCents + in.AmountCents
	full := newRefunded >= txn.AmountCents
	now := time.Now().UTC()

	// One history entry per refund, carrying the refund reference and
	// both balances. Partial refunds keep the claim in its settled
	// charge_succeeded state; a full refund closes it out. The ledger
	// draw-down commits atomically with this write.
	t := sqlite.Transition{
		ClaimID:   c.ID,
		From:      domain.StatusChargeSucceeded,
		To:        domain.StatusChargeSucceeded,
		Action:    domain.ActionRefundIssued,
		ActorRole: domain.RoleAdmin,
		ActorID:   in.AdminID,
		Note:      in.Reason,
		Metadata: map[string]string{
			"refund_ref":   res.ID,
			"pre_balance":  fmt.Sprintf("%d", balance),
			"post_balance": fmt.Sprintf("%d", balance-in.AmountCents),
		},
		Set: map[string]any{
			"refunded_amount": newRefunded,
			"resolution_type": domain.ResolutionPartiallyRefunded,
		},
	}
	if full {
		t.To = domain.StatusResolved
		t.Set["resolution_type"] = domain.ResolutionRefunded
		t.Set["resolved_at"] = now
	}
	if err := e.db.ApplyRefund(t, in.AmountCents); err != nil {
		return nil, err
	}

	kind := "partial"
	if full {
		kind = "full"
	}
	observability.RefundsIssued.WithLabelValues(kind).Inc()
	observability.RefundedCents.Add(float64(in.AmountCents))
	log.Printf("[refund] claim %s: refunded %d cents (%s), remaining balance %d",
		c.ID, in.AmountCents, kind, balance-in.AmountCents)

	e.notify(ctx, "claim_refunded", c.ChefID, c, in.AmountCents)
	e.notify(ctx, "claim_refunded", c.ManagerID, c, in.AmountCents)

	return &Result{
		RefundRef:             res.ID,
		AmountCents:           in.AmountCents,
		RemainingBalanceCents: balance - in.AmountCents,
		Full:                  full,
	}, nil
}

func (e *Engine) notify(ctx context.Context, eventKind, recipientID string, c *domain.Claim, amount int64) {
	if e.notifier == nil {
		return
	}
	err := e.notifier.Notify(ctx, eventKind, recipientID, map[string]any{
		"claim_id": c.ID,
		"amount":   amount,
	})
	if err != nil {
		observability.NotifyFailures.Inc()
		log.Printf("[refund] notify %s to %s failed: %v", eventKind, recipientID, err)
	}
}
