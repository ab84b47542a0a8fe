// Package lifecycle owns the claim state machine: which transitions are
// legal, who may perform them, and what each one sets on the claim row.
//
// Every operation follows the same shape:
//  1. Re-read the claim (guards run against the fresh record, not a cache)
//  2. Validate actor ownership and operation preconditions
//  3. Apply one conditional status write plus one audit insert
//  4. Fire side effects (capture, notifications) that never roll back step 3
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/prepspace/claimd/internal/domain"
	"github.com/prepspace/claimd/internal/infra/observability"
	"github.com/prepspace/claimd/internal/infra/sqlite"
)

// Charger converts an adjudicated claim into a money movement.
// Implemented by the capture engine; injected to keep the state machine
// testable without a gateway.
type Charger interface {
	Capture(ctx context.Context, claimID string) error
}

// Config controls state machine behavior.
type Config struct {
	MinAmountCents   int64         // smallest claimable amount
	MaxAmountCents   int64         // largest claimable amount
	MinEvidence      int           // evidence items required to leave draft
	ResponseDeadline time.Duration // chef response window

	// AsyncCapture fires the capture engine in a goroutine after an
	// approval. Tests disable it for determinism.
	AsyncCapture bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinAmountCents:   100,       // $1.00
		MaxAmountCents:   1_000_000, // $10,000.00
		MinEvidence:      2,
		ResponseDeadline: 72 * time.Hour,
		AsyncCapture:     true,
	}
}

// Service is the claim lifecycle state machine.
type Service struct {
	cfg      Config
	db       *sqlite.DB
	bookings domain.BookingDirectory
	charger  Charger
	notifier domain.Notifier
}

// New creates the lifecycle service.
func New(cfg Config, db *sqlite.DB, bookings domain.BookingDirectory, charger Charger, notifier domain.Notifier) *Service {
	return &Service{cfg: cfg, db: db, bookings: bookings, charger: charger, notifier: notifier}
}

// ─── Create / File ──────────────────────────────────────────────────────────

// CreateInput carries everything a manager supplies when filing a claim.
type CreateInput struct {
	BookingID   string
	BookingType domain.BookingType
	ManagerID   string
	AmountCents int64
	Description string

	// SubmitImmediately creates the claim directly in `submitted`
	// (one atomic path, one history entry). Requires no evidence gate
	// because the storage-checkout flow attaches evidence beforehand —
	// callers using it must pass Evidence.
	SubmitImmediately bool
	Evidence          []domain.Evidence
}

// Create validates the input against the platform limits and the referenced
// booking, then persists a new claim in `draft` (or directly `submitted`).
// The chef id and location id come from the booking, never from the caller.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Claim, error) {
	if in.AmountCents < s.cfg.MinAmountCents {
		return nil, domain.Validationf("amount", "must be at least %d cents", s.cfg.MinAmountCents)
	}
	if in.AmountCents > s.cfg.MaxAmountCents {
		return nil, domain.Validationf("amount", "must not exceed %d cents", s.cfg.MaxAmountCents)
	}
	if in.BookingType != domain.BookingKitchen && in.BookingType != domain.BookingStorage {
		return nil, domain.Validationf("booking_type", "must be kitchen or storage")
	}

	booking, err := s.bookings.GetBooking(ctx, in.BookingType, in.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.ManagerID != in.ManagerID {
		return nil, domain.ErrUnauthorized
	}
	if !booking.Claimable() {
		return nil, domain.Validationf("booking", "cannot file a claim against a %s booking", booking.Status)
	}
	if in.SubmitImmediately && len(in.Evidence) < s.cfg.MinEvidence {
		return nil, domain.Validationf("evidence", "at least %d items required to submit", s.cfg.MinEvidence)
	}

	now := time.Now().UTC()
	c := &domain.Claim{
		ID:                   uuid.NewString(),
		BookingID:            booking.ID,
		BookingType:          booking.Type,
		ChefID:               booking.ChefID,
		ManagerID:            in.ManagerID,
		LocationID:           booking.LocationID,
		Status:               domain.StatusDraft,
		Description:          in.Description,
		ClaimedAmountCents:   in.AmountCents,
		CreatedAt:            now,
		ChefResponseDeadline: now.Add(s.cfg.ResponseDeadline),
	}

	action := domain.ActionCreated
	if in.SubmitImmediately {
		// One transition, one history entry — never `created` then
		// `submitted` for the same write.
		c.Status = domain.StatusSubmitted
		c.SubmittedAt = &now
		s.snapshotPayment(ctx, c, booking)
		action = domain.ActionSubmitted
	}

	if err := s.db.InsertClaim(c, action, in.Description); err != nil {
		return nil, err
	}
	for i := range in.Evidence {
		ev := in.Evidence[i]
		ev.ID = uuid.NewString()
		ev.ClaimID = c.ID
		ev.UploaderID = in.ManagerID
		ev.CreatedAt = now
		if err := s.db.InsertEvidence(&ev); err != nil {
			return nil, err
		}
	}
	observability.ClaimTransitions.WithLabelValues(string(action)).Inc()

	if in.SubmitImmediately {
		s.notify(ctx, "claim_submitted", c.ChefID, c)
	}
	return c, nil
}

// FileClaim is the narrow capability consumed by sibling workflows
// (the storage-checkout review flow files damage claims through it).
// It is the atomic create-and-submit path.
func (s *Service) FileClaim(ctx context.Context, bookingType domain.BookingType, bookingID, managerID string, amountCents int64, description string, evidence []domain.Evidence) (*domain.Claim, error) {
	return s.Create(ctx, CreateInput{
		BookingID:         bookingID,
		BookingType:       bookingType,
		ManagerID:         managerID,
		AmountCents:       amountCents,
		Description:       description,
		SubmitImmediately: true,
		Evidence:          evidence,
	})
}

// ─── Evidence ───────────────────────────────────────────────────────────────

// AddEvidence attaches evidence to a draft or submitted claim.
func (s *Service) AddEvidence(ctx context.Context, claimID, uploaderID string, ev domain.Evidence) (*domain.Evidence, error) {
	c, err := s.db.GetClaim(claimID)
	if err != nil {
		return nil, err
	}
	if c.ManagerID != uploaderID && c.ChefID != uploaderID {
		return nil, domain.ErrUnauthorized
	}
	if c.Status != domain.StatusDraft && c.Status != domain.StatusSubmitted && c.Status != domain.StatusUnderReview {
		return nil, fmt.Errorf("cannot attach evidence to a %s claim: %w", c.Status, domain.ErrConflict)
	}
	if !ev.Kind.Valid() {
		return nil, domain.Validationf("kind", "unknown evidence kind %q", ev.Kind)
	}
	if ev.FileRef == "" {
		return nil, domain.Validationf("file_ref", "required")
	}

	ev.ID = uuid.NewString()
	ev.ClaimID = claimID
	ev.UploaderID = uploaderID
	ev.CreatedAt = time.Now().UTC()
	if err := s.db.InsertEvidence(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ─── Submit ─────────────────────────────────────────────────────────────────

// Submit moves a draft claim to `submitted`. Requires the configured
// minimum evidence count and snapshots the booking's payment instrument
// so later booking mutations cannot change what gets charged.
func (s *Service) Submit(ctx context.Context, claimID, managerID string) (*domain.Claim, error) {
	c, err := s.db.GetClaim(claimID)
	if err != nil {
		return nil, err
	}
	if c.ManagerID != managerID {
		return nil, domain.ErrUnauthorized
	}
	if c.Status != domain.StatusDraft {
		return nil, fmt.Errorf("submit requires draft, claim is %s: %w", c.Status, domain.ErrConflict)
	}

	n, err := s.db.CountEvidence(claimID)
	if err != nil {
		return nil, err
	}
	if n < s.cfg.MinEvidence {
		return nil, domain.Validationf("evidence", "at least %d items required, have %d", s.cfg.MinEvidence, n)
	}

	booking, err := s.bookings.GetBooking(ctx, c.BookingType, c.BookingID)
	if err != nil {
		return nil, err
	}
	s.snapshotPayment(ctx, c, booking)

	now := time.Now().UTC()
	err = s.db.ApplyTransition(sqlite.Transition{
		ClaimID:   claimID,
		From:      domain.StatusDraft,
		To:        domain.StatusSubmitted,
		Action:    domain.ActionSubmitted,
		ActorRole: domain.RoleManager,
		ActorID:   managerID,
		Set: map[string]any{
			"submitted_at":         now,
			"payment_customer_ref": c.PaymentCustomerRef,
			"payment_method_ref":   c.PaymentMethodRef,
			"payment_source":       c.PaymentSource,
		},
	})
	if err != nil {
		s.countConflict(err)
		return nil, err
	}
	observability.ClaimTransitions.WithLabelValues(string(domain.ActionSubmitted)).Inc()
	s.notify(ctx, "claim_submitted", c.ChefID, c)
	return s.db.GetClaim(claimID)
}

// snapshotPayment resolves the payment instrument at submission time.
// Resolution order: the claim's own booking, then its linked storage
// booking. The chosen source is recorded, never silent.
func (s *Service) snapshotPayment(ctx context.Context, c *domain.Claim, booking *domain.Booking) {
	if booking.HasSavedPayment() {
		c.PaymentCustomerRef = booking.PaymentCustomerRef
		c.PaymentMethodRef = booking.PaymentMethodRef
		c.PaymentSource = "primary_booking"
		return
	}
	if booking.LinkedStorageBookingID != "" {
		linked, err := s.bookings.GetBooking(ctx, domain.BookingStorage, booking.LinkedStorageBookingID)
		if err == nil && linked.HasSavedPayment() {
			c.PaymentCustomerRef = linked.PaymentCustomerRef
			c.PaymentMethodRef = linked.PaymentMethodRef
			c.PaymentSource = "linked_storage_booking"
			log.Printf("[lifecycle] claim %s: payment method from linked storage booking %s", c.ID, linked.ID)
			return
		}
	}
	// No saved instrument anywhere — capture will fail the claim with a
	// clear reason when it runs; submission itself is not blocked.
	c.PaymentSource = ""
}

// ─── Chef Response ──────────────────────────────────────────────────────────

// ChefAction is the chef's response to a submitted claim.
type ChefAction string

const (
	ChefAccept  ChefAction = "accept"
	ChefDispute ChefAction = "dispute"
)

// ChefRespond records the chef's accept/dispute decision.
//
// Accept is one compound transition straight to `approved` with
// approved = final = claimed ("accept implies approve"); the acceptance
// is history metadata, not a durable intermediate row state. Dispute
// moves the claim to `under_review` for an admin decision. A response
// against a claim no longer in `submitted` is a conflict, not a no-op.
func (s *Service) ChefRespond(ctx context.Context, claimID, chefID string, action ChefAction, note string) (*domain.Claim, error) {
	c, err := s.db.GetClaim(claimID)
	if err != nil {
		return nil, err
	}
	if c.ChefID != chefID {
		return nil, domain.ErrUnauthorized
	}
	if c.Status != domain.StatusSubmitted {
		return nil, fmt.Errorf("respond requires submitted, claim is %s: %w", c.Status, domain.ErrConflict)
	}

	now := time.Now().UTC()
	switch action {
	case ChefAccept:
		err = s.db.ApplyTransition(sqlite.Transition{
			ClaimID:   claimID,
			From:      domain.StatusSubmitted,
			To:        domain.StatusApproved,
			Action:    domain.ActionChefAccepted,
			ActorRole: domain.RoleChef,
			ActorID:   chefID,
			Note:      note,
			Metadata:  map[string]string{"via": "chef_accepted"},
			Set: map[string]any{
				"approved_amount":   c.ClaimedAmountCents,
				"final_amount":      c.ClaimedAmountCents,
				"chef_responded_at": now,
			},
		})
	case ChefDispute:
		err = s.db.ApplyTransition(sqlite.Transition{
			ClaimID:   claimID,
			From:      domain.StatusSubmitted,
			To:        domain.StatusUnderReview,
			Action:    domain.ActionChefDisputed,
			ActorRole: domain.RoleChef,
			ActorID:   chefID,
			Note:      note,
			Metadata:  map[string]string{"via": "chef_disputed"},
			Set: map[string]any{
				"chef_responded_at": now,
			},
		})
	default:
		return nil, domain.Validationf("action", "must be accept or dispute")
	}
	if err != nil {
		s.countConflict(err)
		return nil, err
	}

	if action == ChefAccept {
		observability.ClaimTransitions.WithLabelValues(string(domain.ActionChefAccepted)).Inc()
		s.notify(ctx, "claim_accepted", c.ManagerID, c)
		s.triggerCapture(claimID)
	} else {
		observability.ClaimTransitions.WithLabelValues(string(domain.ActionChefDisputed)).Inc()
		s.notify(ctx, "claim_disputed", c.ManagerID, c)
	}
	return s.db.GetClaim(claimID)
}

// ─── Admin Decision ─────────────────────────────────────────────────────────

// AdminDecision is the adjudication outcome for a disputed claim.
type AdminDecision struct {
	Decision            string // approve | partially_approve | reject
	ApprovedAmountCents int64  // required for partially_approve
	Notes               string
}

// AdminDecide adjudicates a disputed claim. Legal only from under_review.
func (s *Service) AdminDecide(ctx context.Context, claimID, adminID string, d AdminDecision) (*domain.Claim, error) {
	c, err := s.db.GetClaim(claimID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.StatusUnderReview {
		return nil, fmt.Errorf("decide requires under_review, claim is %s: %w", c.Status, domain.ErrConflict)
	}

	now := time.Now().UTC()
	var t sqlite.Transition
	var action domain.Action

	switch d.Decision {
	case "approve":
		action = domain.ActionAdminApproved
		t = sqlite.Transition{
			From: domain.StatusUnderReview, To: domain.StatusApproved,
			Set: map[string]any{
				"approved_amount":   c.ClaimedAmountCents,
				"final_amount":      c.ClaimedAmountCents,
				"admin_reviewed_at": now,
				"resolution_notes":  d.Notes,
			},
		}
	case "partially_approve":
		if d.ApprovedAmountCents <= 0 {
			return nil, domain.Validationf("approved_amount", "must be positive")
		}
		if d.ApprovedAmountCents >= c.ClaimedAmountCents {
			return nil, domain.Validationf("approved_amount", "must be less than claimed amount %d", c.ClaimedAmountCents)
		}
		action = domain.ActionAdminPartial
		t = sqlite.Transition{
			From: domain.StatusUnderReview, To: domain.StatusPartiallyApproved,
			Set: map[string]any{
				"approved_amount":   d.ApprovedAmountCents,
				"final_amount":      d.ApprovedAmountCents,
				"admin_reviewed_at": now,
				"resolution_notes":  d.Notes,
			},
		}
	case "reject":
		action = domain.ActionAdminRejected
		t = sqlite.Transition{
			From: domain.StatusUnderReview, To: domain.StatusRejected,
			Set: map[string]any{
				"approved_amount":   int64(0),
				"final_amount":      int64(0),
				"admin_reviewed_at": now,
				"resolved_at":       now,
				"resolution_type":   domain.ResolutionRejected,
				"resolution_notes":  d.Notes,
			},
		}
	default:
		return nil, domain.Validationf("decision", "must be approve, partially_approve, or reject")
	}

	t.ClaimID = claimID
	t.Action = action
	t.ActorRole = domain.RoleAdmin
	t.ActorID = adminID
	t.Note = d.Notes

	if err := s.db.ApplyTransition(t); err != nil {
		s.countConflict(err)
		return nil, err
	}
	observability.ClaimTransitions.WithLabelValues(string(action)).Inc()

	switch d.Decision {
	case "approve", "partially_approve":
		s.notify(ctx, "claim_"+d.Decision+"d", c.ManagerID, c)
		s.notify(ctx, "claim_"+d.Decision+"d", c.ChefID, c)
		s.triggerCapture(claimID)
	case "reject":
		s.notify(ctx, "claim_rejected", c.ManagerID, c)
		s.notify(ctx, "claim_rejected", c.ChefID, c)
	}
	return s.db.GetClaim(claimID)
}

// ─── Expire (sweeper entry point) ───────────────────────────────────────────

// Expire applies the silence-is-acceptance rule: the same compound
// approval the chef's accept uses, attributed to the system. Callers
// (the deadline sweeper) treat ErrConflict as "someone responded first".
func (s *Service) Expire(ctx context.Context, claimID string) (*domain.Claim, error) {
	c, err := s.db.GetClaim(claimID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.StatusSubmitted {
		return nil, fmt.Errorf("expire requires submitted, claim is %s: %w", c.Status, domain.ErrConflict)
	}

	err = s.db.ApplyTransition(sqlite.Transition{
		ClaimID:   claimID,
		From:      domain.StatusSubmitted,
		To:        domain.StatusApproved,
		Action:    domain.ActionDeadlineExpired,
		ActorRole: domain.RoleSystem,
		Note:      "deadline expired",
		Metadata:  map[string]string{"via": "deadline_expired"},
		Set: map[string]any{
			"approved_amount": c.ClaimedAmountCents,
			"final_amount":    c.ClaimedAmountCents,
		},
	})
	if err != nil {
		s.countConflict(err)
		return nil, err
	}
	observability.ClaimTransitions.WithLabelValues(string(domain.ActionDeadlineExpired)).Inc()
	observability.SweepExpirations.Inc()
	s.notify(ctx, "claim_auto_approved", c.ChefID, c)
	s.notify(ctx, "claim_auto_approved", c.ManagerID, c)
	return s.db.GetClaim(claimID)
}

// ─── Recharge ───────────────────────────────────────────────────────────────

// Recharge re-enters the capture engine for a claim stuck in
// charge_failed. This is a distinct manual operation — charge failures
// are never auto-retried.
func (s *Service) Recharge(ctx context.Context, claimID, adminID string) error {
	c, err := s.db.GetClaim(claimID)
	if err != nil {
		return err
	}
	if c.Status != domain.StatusChargeFailed {
		return fmt.Errorf("recharge requires charge_failed, claim is %s: %w", c.Status, domain.ErrConflict)
	}
	log.Printf("[lifecycle] claim %s: recharge requested by admin %s", claimID, adminID)
	observability.ClaimTransitions.WithLabelValues(string(domain.ActionRecharge)).Inc()
	return s.charger.Capture(ctx, claimID)
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// Get returns a claim by id.
func (s *Service) Get(claimID string) (*domain.Claim, error) {
	return s.db.GetClaim(claimID)
}

// History returns a claim's audit trail.
func (s *Service) History(claimID string) ([]domain.HistoryEntry, error) {
	if _, err := s.db.GetClaim(claimID); err != nil {
		return nil, err
	}
	return s.db.ListHistory(claimID)
}

// Evidence returns a claim's attachments.
func (s *Service) Evidence(claimID string) ([]domain.Evidence, error) {
	if _, err := s.db.GetClaim(claimID); err != nil {
		return nil, err
	}
	return s.db.ListEvidence(claimID)
}

// DeleteDraft removes a claim that never left draft.
func (s *Service) DeleteDraft(claimID, managerID string) error {
	c, err := s.db.GetClaim(claimID)
	if err != nil {
		return err
	}
	if c.ManagerID != managerID {
		return domain.ErrUnauthorized
	}
	return s.db.DeleteDraftClaim(claimID)
}

// ─── Side Effects ───────────────────────────────────────────────────────────

// triggerCapture invokes the capture engine for a freshly approved claim.
// A capture failure never rolls back the adjudication — the claim lands
// in charge_failed, a recoverable state.
func (s *Service) triggerCapture(claimID string) {
	if s.charger == nil {
		return
	}
	run := func() {
		if err := s.charger.Capture(context.Background(), claimID); err != nil {
			log.Printf("[lifecycle] claim %s: capture failed: %v", claimID, err)
		}
	}
	if s.cfg.AsyncCapture {
		go run()
	} else {
		run()
	}
}

// notify dispatches a user-visible event. Best effort: failures are
// logged and never affect claim state.
func (s *Service) notify(ctx context.Context, eventKind, recipientID string, c *domain.Claim) {
	if s.notifier == nil {
		return
	}
	payload := map[string]any{
		"claim_id":       c.ID,
		"booking_id":     c.BookingID,
		"claimed_amount": c.ClaimedAmountCents,
	}
	if err := s.notifier.Notify(ctx, eventKind, recipientID, payload); err != nil {
		observability.NotifyFailures.Inc()
		log.Printf("[lifecycle] notify %s to %s failed: %v", eventKind, recipientID, err)
	}
}

func (s *Service) countConflict(err error) {
	if errors.Is(err, domain.ErrConflict) {
		observability.TransitionConflicts.Inc()
	}
}
