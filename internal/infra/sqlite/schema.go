package sqlite

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Claims — the aggregate root. All amounts in minor currency units.
		`CREATE TABLE IF NOT EXISTS claims (
			id                     TEXT PRIMARY KEY,
			booking_id             TEXT NOT NULL,
			booking_type           TEXT NOT NULL,
			chef_id                TEXT NOT NULL,
			manager_id             TEXT NOT NULL,
			location_id            TEXT NOT NULL,
			status                 TEXT NOT NULL DEFAULT 'draft',
			description            TEXT NOT NULL DEFAULT '',
			claimed_amount         INTEGER NOT NULL,
			approved_amount        INTEGER,
			final_amount           INTEGER,
			created_at             TEXT NOT NULL,
			chef_response_deadline TEXT NOT NULL,
			submitted_at           TEXT,
			chef_responded_at      TEXT,
			admin_reviewed_at      TEXT,
			charge_attempted_at    TEXT,
			charge_succeeded_at    TEXT,
			charge_failed_at       TEXT,
			resolved_at            TEXT,
			resolution_type        TEXT NOT NULL DEFAULT '',
			resolution_notes       TEXT NOT NULL DEFAULT '',
			payment_customer_ref   TEXT NOT NULL DEFAULT '',
			payment_method_ref     TEXT NOT NULL DEFAULT '',
			payment_source         TEXT NOT NULL DEFAULT '',
			charge_ref             TEXT NOT NULL DEFAULT '',
			charge_failure_reason  TEXT NOT NULL DEFAULT '',
			ledger_txn_id          INTEGER NOT NULL DEFAULT 0,
			refunded_amount        INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_booking ON claims(booking_type, booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_deadline ON claims(status, chef_response_deadline)`,

		// Evidence — attachments owned by a claim.
		`CREATE TABLE IF NOT EXISTS claim_evidence (
			id          TEXT PRIMARY KEY,
			claim_id    TEXT NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
			kind        TEXT NOT NULL,
			file_ref    TEXT NOT NULL,
			uploader_id TEXT NOT NULL,
			amount      INTEGER,
			vendor      TEXT NOT NULL DEFAULT '',
			note        TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evidence_claim ON claim_evidence(claim_id)`,

		// History — append-only audit trail, one row per status transition.
		// Never updated or deleted.
		`CREATE TABLE IF NOT EXISTS claim_history (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			claim_id      TEXT NOT NULL,
			from_status   TEXT NOT NULL,
			to_status     TEXT NOT NULL,
			action        TEXT NOT NULL,
			actor_role    TEXT NOT NULL,
			actor_id      TEXT NOT NULL DEFAULT '',
			note          TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at    TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_claim ON claim_history(claim_id, id)`,

		// Ledger transactions — one per successful charge, idempotent by
		// claim id.
		`CREATE TABLE IF NOT EXISTS ledger_transactions (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			claim_id        TEXT NOT NULL UNIQUE,
			charge_ref      TEXT NOT NULL,
			amount          INTEGER NOT NULL,
			service_fee     INTEGER NOT NULL DEFAULT 0,
			manager_revenue INTEGER NOT NULL DEFAULT 0,
			refunded        INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Bookings — read model of the external booking subsystem.
		`CREATE TABLE IF NOT EXISTS bookings (
			id                        TEXT NOT NULL,
			booking_type              TEXT NOT NULL,
			status                    TEXT NOT NULL,
			chef_id                   TEXT NOT NULL,
			manager_id                TEXT NOT NULL,
			location_id               TEXT NOT NULL,
			payment_customer_ref      TEXT NOT NULL DEFAULT '',
			payment_method_ref        TEXT NOT NULL DEFAULT '',
			manager_account_ref       TEXT NOT NULL DEFAULT '',
			linked_storage_booking_id TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (booking_type, id)
		)`,
	}
}
