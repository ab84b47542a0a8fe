package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prepspace/claimd/internal/app/lifecycle"
	"github.com/prepspace/claimd/internal/app/refund"
	"github.com/prepspace/claimd/internal/domain"
)

// ─── Claim API ──────────────────────────────────────────────────────────────
// REST endpoints for the marketplace backend and admin tooling.
//
// POST   /api/claims                — create (draft or direct submit)
// GET    /api/claims/{id}           — fetch one claim
// DELETE /api/claims/{id}           — delete a draft
// GET    /api/claims/{id}/history   — audit trail
// GET    /api/claims/{id}/evidence  — attachments
// POST   /api/claims/{id}/evidence  — attach evidence
// POST   /api/claims/{id}/submit    — draft → submitted
// POST   /api/claims/{id}/respond   — chef accept/dispute
// POST   /api/claims/{id}/decide    — admin adjudication
// POST   /api/claims/{id}/recharge  — retry a failed charge
// POST   /api/claims/{id}/refund    — reverse a captured charge
//
// Actor identity arrives in the request body; the upstream gateway has
// already authenticated the caller and injects the trusted ids.

// ClaimAPI holds the services behind the claim endpoints.
type ClaimAPI struct {
	Lifecycle *lifecycle.Service
	Refunds   *refund.Engine
}

// evidenceInput is the wire form of one evidence attachment.
type evidenceInput struct {
	Kind    string `json:"kind"`
	FileRef string `json:"file_ref"`
	Note    string `json:"note,omitempty"`
}

func (in evidenceInput) toDomain() domain.Evidence {
	return domain.Evidence{
		Kind:    domain.EvidenceKind(in.Kind),
		FileRef: in.FileRef,
		Note:    in.Note,
	}
}

// HandleCreate files a new claim.
// POST /api/claims
func (a *ClaimAPI) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookingID   string          `json:"booking_id"`
		BookingType string          `json:"booking_type"`
		ManagerID   string          `json:"manager_id"`
		AmountCents int64           `json:"amount_cents"`
		Description string          `json:"description"`
		Submit      bool            `json:"submit"`
		Evidence    []evidenceInput `json:"evidence,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	evidence := make([]domain.Evidence, 0, len(req.Evidence))
	for _, ev := range req.Evidence {
		evidence = append(evidence, ev.toDomain())
	}

	claim, err := a.Lifecycle.Create(r.Context(), lifecycle.CreateInput{
		BookingID:         req.BookingID,
		BookingType:       domain.BookingType(req.BookingType),
		ManagerID:         req.ManagerID,
		AmountCents:       req.AmountCents,
		Description:       req.Description,
		SubmitImmediately: req.Submit,
		Evidence:          evidence,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, claim)
}

// HandleGet returns one claim.
// GET /api/claims/{id}
func (a *ClaimAPI) HandleGet(w http.ResponseWriter, r *http.Request) {
	claim, err := a.Lifecycle.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// HandleDeleteDraft removes a claim that never left draft.
// DELETE /api/claims/{id}
func (a *ClaimAPI) HandleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	managerID := r.URL.Query().Get("manager_id")
	if managerID == "" {
		writeError(w, http.StatusBadRequest, "manager_id is required")
		return
	}
	if err := a.Lifecycle.DeleteDraft(chi.URLParam(r, "id"), managerID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleHistory returns a claim's audit trail.
// GET /api/claims/{id}/history
func (a *ClaimAPI) HandleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := a.Lifecycle.History(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": entries,
	})
}

// HandleListEvidence returns a claim's attachments.
// GET /api/claims/{id}/evidence
func (a *ClaimAPI) HandleListEvidence(w http.ResponseWriter, r *http.Request) {
	evidence, err := a.Lifecycle.Evidence(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"evidence": evidence,
	})
}

// HandleAddEvidence attaches one evidence item.
// POST /api/claims/{id}/evidence
func (a *ClaimAPI) HandleAddEvidence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UploaderID string `json:"uploader_id"`
		evidenceInput
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := a.Lifecycle.AddEvidence(r.Context(), chi.URLParam(r, "id"), req.UploaderID, req.toDomain())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// HandleSubmit moves a draft claim to submitted.
// POST /api/claims/{id}/submit
func (a *ClaimAPI) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ManagerID string `json:"manager_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claim, err := a.Lifecycle.Submit(r.Context(), chi.URLParam(r, "id"), req.ManagerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// HandleRespond records the chef's accept/dispute decision.
// POST /api/claims/{id}/respond
func (a *ClaimAPI) HandleRespond(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChefID string `json:"chef_id"`
		Action string `json:"action"` // accept | dispute
		Note   string `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claim, err := a.Lifecycle.ChefRespond(r.Context(), chi.URLParam(r, "id"),
		req.ChefID, lifecycle.ChefAction(req.Action), req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// HandleDecide adjudicates a disputed claim.
// POST /api/claims/{id}/decide
func (a *ClaimAPI) HandleDecide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdminID             string `json:"admin_id"`
		Decision            string `json:"decision"` // approve | partially_approve | reject
		ApprovedAmountCents int64  `json:"approved_amount_cents,omitempty"`
		Notes               string `json:"notes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claim, err := a.Lifecycle.AdminDecide(r.Context(), chi.URLParam(r, "id"), req.AdminID, lifecycle.AdminDecision{
		Decision:            req.Decision,
		ApprovedAmountCents: req.ApprovedAmountCents,
		Notes:               req.Notes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// HandleRecharge retries the charge for a claim in charge_failed.
// POST /api/claims/{id}/recharge
func (a *ClaimAPI) HandleRecharge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdminID string `json:"admin_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := a.Lifecycle.Recharge(r.Context(), id, req.AdminID); err != nil {
		writeDomainError(w, err)
		return
	}
	// The charge outcome lands in claim state; return the fresh record.
	claim, err := a.Lifecycle.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// HandleRefund reverses part or all of a captured charge.
// POST /api/claims/{id}/refund
func (a *ClaimAPI) HandleRefund(w http.ResponseWriter, r *http.Request) {
	if a.Refunds == nil {
		writeError(w, http.StatusServiceUnavailable, "refunds not initialized")
		return
	}

	var req struct {
		AdminID     string `json:"admin_id"`
		AmountCents int64  `json:"amount_cents"`
		Reason      string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := a.Refunds.Refund(r.Context(), refund.Input{
		ClaimID:     chi.URLParam(r, "id"),
		AdminID:     req.AdminID,
		AmountCents: req.AmountCents,
		Reason:      req.Reason,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
