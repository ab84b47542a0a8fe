package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/prepspace/claimd/internal/domain"
)

// ─── Claim Operations ───────────────────────────────────────────────────────

// InsertClaim persists a new claim together with its first history entry
// (`created` or `submitted`, never both) in one transaction.
func (db *DB) InsertClaim(c *domain.Claim, action domain.Action, note string) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO claims (
			id, booking_id, booking_type, chef_id, manager_id, location_id,
			status, description, claimed_amount,
			created_at, chef_response_deadline, submitted_at,
			payment_customer_ref, payment_method_ref, payment_source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.BookingID, string(c.BookingType), c.ChefID, c.ManagerID, c.LocationID,
		string(c.Status), c.Description, c.ClaimedAmountCents,
		fmtTime(c.CreatedAt), fmtTime(c.ChefResponseDeadline), fmtTimePtr(c.SubmittedAt),
		c.PaymentCustomerRef, c.PaymentMethodRef, c.PaymentSource)
	if err != nil {
		return err
	}

	if err := insertHistory(tx, domain.HistoryEntry{
		ClaimID:    c.ID,
		FromStatus: "",
		ToStatus:   c.Status,
		Action:     action,
		ActorRole:  domain.RoleManager,
		ActorID:    c.ManagerID,
		Note:       note,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// Transition is one atomic status advance: a compare-and-set conditional
// update on the claim row plus one audit insert, in one transaction.
type Transition struct {
	ClaimID   string
	From      domain.Status
	To        domain.Status
	Action    domain.Action
	ActorRole domain.ActorRole
	ActorID   string
	Note      string
	Metadata  map[string]string

	// Set holds additional column updates applied with the status write.
	// Columns outside the whitelist are rejected.
	Set map[string]any
}

// transitionColumns is the whitelist of columns a transition may set.
var transitionColumns = map[string]bool{
	"approved_amount":       true,
	"final_amount":          true,
	"submitted_at":          true,
	"chef_responded_at":     true,
	"admin_reviewed_at":     true,
	"charge_attempted_at":   true,
	"charge_succeeded_at":   true,
	"charge_failed_at":      true,
	"resolved_at":           true,
	"resolution_type":       true,
	"resolution_notes":      true,
	"payment_customer_ref":  true,
	"payment_method_ref":    true,
	"payment_source":        true,
	"charge_ref":            true,
	"charge_failure_reason": true,
	"ledger_txn_id":         true,
	"refunded_amount":       true,
}

// ApplyTransition advances a claim's status.
//
// The UPDATE is conditional on the expected previous status; if zero rows
// match, a concurrent actor won the race and domain.ErrConflict is
// returned (or domain.ErrClaimNotFound when the row does not exist).
// The engine never overwrites a status it did not expect.
func (db *DB) ApplyTransition(t Transition) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyTransition(tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

// applyTransition runs the conditional status write plus the audit insert
// inside an existing transaction.
func applyTransition(tx *sql.Tx, t Transition) error {
	cols := make([]string, 0, len(t.Set))
	for c := range t.Set {
		if !transitionColumns[c] {
			return fmt.Errorf("transition may not set column %q", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	q := `UPDATE claims SET status = ?`
	args := []any{string(t.To)}
	for _, c := range cols {
		q += fmt.Sprintf(", %s = ?", c)
		args = append(args, normalizeArg(t.Set[c]))
	}
	q += ` WHERE id = ? AND status = ?`
	args = append(args, t.ClaimID, string(t.From))

	res, err := tx.Exec(q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Precondition failed: distinguish a missing row from a race.
		var cur string
		err := tx.QueryRow(`SELECT status FROM claims WHERE id = ?`, t.ClaimID).Scan(&cur)
		if err == sql.ErrNoRows {
			return domain.ErrClaimNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("expected %s, found %s: %w", t.From, cur, domain.ErrConflict)
	}

	if err := insertHistory(tx, domain.HistoryEntry{
		ClaimID:    t.ClaimID,
		FromStatus: t.From,
		ToStatus:   t.To,
		Action:     t.Action,
		ActorRole:  t.ActorRole,
		ActorID:    t.ActorID,
		Note:       t.Note,
		Metadata:   t.Metadata,
	}); err != nil {
		return err
	}

	return nil
}

// normalizeArg converts domain values into driver-friendly ones.
func normalizeArg(v any) any {
	switch x := v.(type) {
	case time.Time:
		return fmtTime(x)
	case *time.Time:
		return fmtTimePtr(x)
	case domain.ResolutionType:
		return string(x)
	default:
		return v
	}
}

// GetClaim retrieves a claim by id.
func (db *DB) GetClaim(id string) (*domain.Claim, error) {
	row := db.db.QueryRow(`
		SELECT id, booking_id, booking_type, chef_id, manager_id, location_id,
			status, description, claimed_amount, approved_amount, final_amount,
			created_at, chef_response_deadline, submitted_at, chef_responded_at,
			admin_reviewed_at, charge_attempted_at, charge_succeeded_at,
			charge_failed_at, resolved_at, resolution_type, resolution_notes,
			payment_customer_ref, payment_method_ref, payment_source,
			charge_ref, charge_failure_reason, ledger_txn_id, refunded_amount
		FROM claims WHERE id = ?
	`, id)
	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrClaimNotFound
	}
	return c, err
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*domain.Claim, error) {
	var c domain.Claim
	var bookingType, status, resolutionType string
	var approved, final sql.NullInt64
	var createdAt, deadline string
	var submittedAt, respondedAt, reviewedAt sql.NullString
	var attemptedAt, succeededAt, failedAt, resolvedAt sql.NullString

	err := row.Scan(&c.ID, &c.BookingID, &bookingType, &c.ChefID, &c.ManagerID,
		&c.LocationID, &status, &c.Description, &c.ClaimedAmountCents,
		&approved, &final, &createdAt, &deadline, &submittedAt, &respondedAt,
		&reviewedAt, &attemptedAt, &succeededAt, &failedAt, &resolvedAt,
		&resolutionType, &c.ResolutionNotes, &c.PaymentCustomerRef,
		&c.PaymentMethodRef, &c.PaymentSource, &c.ChargeRef,
		&c.ChargeFailureReason, &c.LedgerTxnID, &c.RefundedAmountCents)
	if err != nil {
		return nil, err
	}

	c.BookingType = domain.BookingType(bookingType)
	c.Status = domain.Status(status)
	c.ResolutionType = domain.ResolutionType(resolutionType)
	if approved.Valid {
		v := approved.Int64
		c.ApprovedAmountCents = &v
	}
	if final.Valid {
		v := final.Int64
		c.FinalAmountCents = &v
	}
	c.CreatedAt = parseTime(createdAt)
	c.ChefResponseDeadline = parseTime(deadline)
	c.SubmittedAt = parseTimePtr(submittedAt)
	c.ChefRespondedAt = parseTimePtr(respondedAt)
	c.AdminReviewedAt = parseTimePtr(reviewedAt)
	c.ChargeAttemptedAt = parseTimePtr(attemptedAt)
	c.ChargeSucceededAt = parseTimePtr(succeededAt)
	c.ChargeFailedAt = parseTimePtr(failedAt)
	c.ResolvedAt = parseTimePtr(resolvedAt)
	return &c, nil
}

// DeleteDraftClaim physically removes a claim. Only drafts may be deleted;
// anything past draft is part of the audit record.
func (db *DB) DeleteDraftClaim(id string) error {
	res, err := db.db.Exec(`
		DELETE FROM claims WHERE id = ? AND status = 'draft'
	`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var cur string
		err := db.db.QueryRow(`SELECT status FROM claims WHERE id = ?`, id).Scan(&cur)
		if err == sql.ErrNoRows {
			return domain.ErrClaimNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("cannot delete %s claim: %w", cur, domain.ErrConflict)
	}
	return nil
}

// ExpiredSubmittedClaims returns claims still awaiting a chef response
// whose deadline has lapsed. Used by the deadline sweeper; a claim that
// has already left `submitted` is simply absent from the result.
func (db *DB) ExpiredSubmittedClaims(now time.Time, limit int) ([]domain.Claim, error) {
	rows, err := db.db.Query(`
		SELECT id, booking_id, booking_type, chef_id, manager_id, location_id,
			status, description, claimed_amount, approved_amount, final_amount,
			created_at, chef_response_deadline, submitted_at, chef_responded_at,
			admin_reviewed_at, charge_attempted_at, charge_succeeded_at,
			charge_failed_at, resolved_at, resolution_type, resolution_notes,
			payment_customer_ref, payment_method_ref, payment_source,
			charge_ref, charge_failure_reason, ledger_txn_id, refunded_amount
		FROM claims
		WHERE status = 'submitted' AND chef_response_deadline < ?
		ORDER BY chef_response_deadline LIMIT ?
	`, fmtTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// ─── History Operations ─────────────────────────────────────────────────────

func insertHistory(tx *sql.Tx, h domain.HistoryEntry) error {
	meta := "{}"
	if len(h.Metadata) > 0 {
		b, err := json.Marshal(h.Metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	_, err := tx.Exec(`
		INSERT INTO claim_history (claim_id, from_status, to_status, action, actor_role, actor_id, note, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ClaimID, string(h.FromStatus), string(h.ToStatus), string(h.Action),
		string(h.ActorRole), h.ActorID, h.Note, meta, fmtTime(time.Now()))
	return err
}

// ListHistory returns a claim's audit trail in insertion order.
func (db *DB) ListHistory(claimID string) ([]domain.HistoryEntry, error) {
	rows, err := db.db.Query(`
		SELECT id, claim_id, from_status, to_status, action, actor_role, actor_id, note, metadata_json, created_at
		FROM claim_history WHERE claim_id = ? ORDER BY id
	`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		var from, to, action, role, meta, createdAt string
		if err := rows.Scan(&h.ID, &h.ClaimID, &from, &to, &action, &role, &h.ActorID, &h.Note, &meta, &createdAt); err != nil {
			return nil, err
		}
		h.FromStatus = domain.Status(from)
		h.ToStatus = domain.Status(to)
		h.Action = domain.Action(action)
		h.ActorRole = domain.ActorRole(role)
		h.CreatedAt = parseTime(createdAt)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &h.Metadata); err != nil {
				return nil, err
			}
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

// ─── Evidence Operations ────────────────────────────────────────────────────

// InsertEvidence attaches evidence to a claim.
func (db *DB) InsertEvidence(e *domain.Evidence) error {
	_, err := db.db.Exec(`
		INSERT INTO claim_evidence (id, claim_id, kind, file_ref, uploader_id, amount, vendor, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ClaimID, string(e.Kind), e.FileRef, e.UploaderID, e.AmountCents, e.Vendor, e.Note, fmtTime(e.CreatedAt))
	return err
}

// CountEvidence returns the number of evidence items on a claim.
func (db *DB) CountEvidence(claimID string) (int, error) {
	var n int
	err := db.db.QueryRow(`
		SELECT COUNT(*) FROM claim_evidence WHERE claim_id = ?
	`, claimID).Scan(&n)
	return n, err
}

// ListEvidence returns a claim's evidence in upload order.
func (db *DB) ListEvidence(claimID string) ([]domain.Evidence, error) {
	rows, err := db.db.Query(`
		SELECT id, claim_id, kind, file_ref, uploader_id, amount, vendor, note, created_at
		FROM claim_evidence WHERE claim_id = ? ORDER BY created_at, id
	`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Evidence
	for rows.Next() {
		var e domain.Evidence
		var kind, createdAt string
		var amount sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ClaimID, &kind, &e.FileRef, &e.UploaderID, &amount, &e.Vendor, &e.Note, &createdAt); err != nil {
			return nil, err
		}
		e.Kind = domain.EvidenceKind(kind)
		if amount.Valid {
			v := amount.Int64
			e.AmountCents = &v
		}
		e.CreatedAt = parseTime(createdAt)
		result = append(result, e)
	}
	return result, rows.Err()
}
