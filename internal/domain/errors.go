package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Lookup errors
	ErrClaimNotFound   = errors.New("claim not found")
	ErrBookingNotFound = errors.New("booking not found")

	// ErrConflict means a status precondition failed on a conditional
	// update: a concurrent actor advanced the claim first. The caller
	// must re-read and retry intentionally; the engine never retries.
	ErrConflict = errors.New("claim status changed concurrently")

	// ErrUnauthorized means the actor does not own the claim.
	ErrUnauthorized = errors.New("actor does not own this claim")

	// Payment errors
	ErrNoPaymentMethod = errors.New("no saved payment method")
	ErrNotRefundable   = errors.New("claim has no refundable charge")
)

// ValidationError rejects an operation synchronously, before any state
// is touched. It is a typed result, not control flow.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
