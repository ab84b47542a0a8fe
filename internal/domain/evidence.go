package domain

import "time"

// ─── Evidence ───────────────────────────────────────────────────────────────

// EvidenceKind classifies an attachment.
type EvidenceKind string

const (
	EvidencePhoto   EvidenceKind = "photo"
	EvidenceReceipt EvidenceKind = "receipt"
	EvidenceInvoice EvidenceKind = "invoice"
	EvidenceOther   EvidenceKind = "other"
)

// Valid reports whether k is a known evidence kind.
func (k EvidenceKind) Valid() bool {
	switch k {
	case EvidencePhoto, EvidenceReceipt, EvidenceInvoice, EvidenceOther:
		return true
	}
	return false
}

// Evidence is an attachment bound to a claim. A claim cannot leave draft
// with fewer than the configured minimum evidence count.
type Evidence struct {
	ID         string       `json:"id"`
	ClaimID    string       `json:"claim_id"`
	Kind       EvidenceKind `json:"kind"`
	FileRef    string       `json:"file_ref"`
	UploaderID string       `json:"uploader_id"`

	// Optional repair-cost substantiation.
	AmountCents *int64 `json:"amount_cents,omitempty"`
	Vendor      string `json:"vendor,omitempty"`

	// Free-text caption from the uploader.
	Note string `json:"note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
