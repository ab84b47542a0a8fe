package sqlite

import (
	"database/sql"
	"time"

	"github.com/prepspace/claimd/internal/domain"
)

// ─── Ledger Transaction Operations ──────────────────────────────────────────
// One ledger row per successful charge. The claim_id UNIQUE constraint
// makes RecordTransaction idempotent: a retried insert for the same claim
// returns the existing row's id instead of creating a duplicate.

// InsertLedgerTransaction records a charge in the ledger.
func (db *DB) InsertLedgerTransaction(txn domain.LedgerTransaction) (int64, error) {
	res, err := db.db.Exec(`
		INSERT INTO ledger_transactions (claim_id, charge_ref, amount, service_fee, manager_revenue)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(claim_id) DO NOTHING
	`, txn.ClaimID, txn.ChargeRef, txn.AmountCents, txn.ServiceFeeCents, txn.ManagerRevenueCents)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return res.LastInsertId()
	}
	// Already recorded — return the existing id.
	var id int64
	err = db.db.QueryRow(`
		SELECT id FROM ledger_transactions WHERE claim_id = ?
	`, txn.ClaimID).Scan(&id)
	return id, err
}

// UpdateLedgerFees corrects a transaction once the gateway reports the
// actual processing fee.
func (db *DB) UpdateLedgerFees(id, serviceFeeCents, managerRevenueCents int64) error {
	_, err := db.db.Exec(`
		UPDATE ledger_transactions SET service_fee = ?, manager_revenue = ? WHERE id = ?
	`, serviceFeeCents, managerRevenueCents, id)
	return err
}

// ApplyRefund draws down the transaction's refundable balance and
// advances the claim in one transaction. The refunded counter is the
// sole input to the refund cap, so it never moves independently of the
// claim's refunded_amount: both commit or both roll back.
func (db *DB) ApplyRefund(t Transition, amountCents int64) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE ledger_transactions SET refunded = refunded + ? WHERE claim_id = ?
	`, amountCents, t.ClaimID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotRefundable
	}

	if err := applyTransition(tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

// GetLedgerTransaction returns the transaction for a claim.
func (db *DB) GetLedgerTransaction(claimID string) (*domain.LedgerTransaction, error) {
	var t domain.LedgerTransaction
	var createdAt string
	err := db.db.QueryRow(`
		SELECT id, claim_id, charge_ref, amount, service_fee, manager_revenue, refunded, created_at
		FROM ledger_transactions WHERE claim_id = ?
	`, claimID).Scan(&t.ID, &t.ClaimID, &t.ChargeRef, &t.AmountCents,
		&t.ServiceFeeCents, &t.ManagerRevenueCents, &t.RefundedCents, &createdAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotRefundable
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	return &t, nil
}
