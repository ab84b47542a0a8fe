package domain

import "time"

// ─── Audit Trail ────────────────────────────────────────────────────────────

// Action tags the logical operation that caused a transition.
type Action string

const (
	ActionCreated         Action = "created"
	ActionSubmitted       Action = "submitted"
	ActionChefAccepted    Action = "chef_accepted"
	ActionChefDisputed    Action = "chef_disputed"
	ActionAdminApproved   Action = "admin_approved"
	ActionAdminPartial    Action = "admin_partially_approved"
	ActionAdminRejected   Action = "admin_rejected"
	ActionDeadlineExpired Action = "deadline_expired"
	ActionChargeAttempted Action = "charge_attempted"
	ActionChargeSucceeded Action = "charge_succeeded"
	ActionChargeFailed    Action = "charge_failed"
	ActionRecharge        Action = "recharge_requested"
	ActionRefundIssued    Action = "refund_issued"
)

// HistoryEntry is one immutable audit record per status transition.
// Entries are created in the same transaction as the status write and
// are never updated or deleted.
type HistoryEntry struct {
	ID         int64             `json:"id"`
	ClaimID    string            `json:"claim_id"`
	FromStatus Status            `json:"from_status"`
	ToStatus   Status            `json:"to_status"`
	Action     Action            `json:"action"`
	ActorRole  ActorRole         `json:"actor_role"`
	ActorID    string            `json:"actor_id,omitempty"`
	Note       string            `json:"note,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
