// Package ledger implements domain.Ledger on top of the sqlite store.
// The accounting service proper lives elsewhere; this adapter gives the
// capture and refund engines a durable, idempotent recording target.
package ledger

import (
	"context"

	"github.com/prepspace/claimd/internal/domain"
	"github.com/prepspace/claimd/internal/infra/sqlite"
)

// Service records money movement per claim.
type Service struct {
	db *sqlite.DB
}

// New creates a ledger service.
func New(db *sqlite.DB) *Service {
	return &Service{db: db}
}

// RecordTransaction stores a charge. Idempotent by claim id: a repeated
// call for the same claim returns the existing transaction's id.
func (s *Service) RecordTransaction(ctx context.Context, txn domain.LedgerTransaction) (int64, error) {
	return s.db.InsertLedgerTransaction(txn)
}

// UpdateTransaction corrects the fee split after gateway reconciliation.
func (s *Service) UpdateTransaction(ctx context.Context, id int64, serviceFeeCents, managerRevenueCents int64) error {
	return s.db.UpdateLedgerFees(id, serviceFeeCents, managerRevenueCents)
}
