package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fielddispatch/gateway/internal/apperr"
	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/eventbus"
	"github.com/fielddispatch/gateway/internal/security"
	"github.com/fielddispatch/gateway/internal/sla"
)

// decideCredential is shared by ApproveCredential and RejectCredential:
// both load the credential purely to shape the 404 and report back the
// resulting status, while the actual transition is a single guarded
// UPDATE so a stale double-decision is a no-op rather than an overwrite.
func (h *Handler) decideCredential(w http.ResponseWriter, r *http.Request, status domain.CredentialStatus, reason *string) {
	credID, err := domain.ParseID(chi.URLParam(r, "credentialID"))
	if err != nil {
		badRequest(w, "invalid credential id")
		return
	}

	ctx := r.Context()
	cred, err := h.Store.GetCredential(ctx, credID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if cred == nil {
		h.writeError(w, r, apperr.NotFound("credential", credID))
		return
	}
	if cred.Status != domain.CredentialPendingReview {
		h.writeError(w, r, apperr.New(apperr.KindConflictingState, "credential already decided"))
		return
	}

	now := time.Now().UTC()
	ok, err := h.Store.DecideCredential(ctx, credID, status, reason, now)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		h.writeError(w, r, apperr.New(apperr.KindConflictingState, "credential already decided"))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}{ID: credID.String(), Status: string(status)})
}

// ApproveCredential implements approve_credential.
func (h *Handler) ApproveCredential(w http.ResponseWriter, r *http.Request) {
	h.decideCredential(w, r, domain.CredentialVerified, nil)
}

// RejectCredential implements reject_credential.
func (h *Handler) RejectCredential(w http.ResponseWriter, r *http.Request) {
	var req RejectCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := security.ValidateStruct(req); err != nil {
		badRequest(w, err.Error())
		return
	}
	reason := security.SanitizeFreeText(req.Reason)
	h.decideCredential(w, r, domain.CredentialRejected, &reason)
}

// AdjustScore implements adjust_score.
func (h *Handler) AdjustScore(w http.ResponseWriter, r *http.Request) {
	providerID, err := domain.ParseID(chi.URLParam(r, "providerID"))
	if err != nil {
		badRequest(w, "invalid provider id")
		return
	}
	var req AdjustScoreRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := security.ValidateStruct(req); err != nil {
		badRequest(w, err.Error())
		return
	}
	reason := security.SanitizeFreeText(req.Reason)

	p, err := h.Scoring.AdjustScore(r.Context(), providerID, req.Delta, reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ProviderID    string  `json:"provider_id"`
		InternalScore float64 `json:"internal_score"`
	}{ProviderID: p.ID.String(), InternalScore: p.InternalScore})
}

// Reassign implements reassign: it cancels the job's active offers,
// resets it to pending_match, then targets a single new offer at the
// admin-specified provider rather than re-running the broadcast pipeline
// against the full qualified pool.
func (h *Handler) Reassign(w http.ResponseWriter, r *http.Request) {
	jobID, err := domain.ParseID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}
	var req ReassignRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := security.ValidateStruct(req); err != nil {
		badRequest(w, err.Error())
		return
	}
	newProviderID, err := domain.ParseID(req.NewProviderID)
	if err != nil {
		badRequest(w, "invalid new_provider_id")
		return
	}
	reason := security.SanitizeFreeText(req.Reason)

	ctx := r.Context()
	job, err := h.Store.GetJob(ctx, jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if job == nil {
		h.writeError(w, r, apperr.NotFound("job", jobID))
		return
	}
	oldProviderID := job.AssignedProviderID

	if err := h.Assignment.Reassign(ctx, h.Lifecycle, job, reason); err != nil {
		h.writeError(w, r, err)
		return
	}

	now := time.Now().UTC()
	offer := domain.Assignment{
		ID:             domain.NewID(),
		JobID:          jobID,
		ProviderID:     newProviderID,
		Status:         domain.AssignmentOffered,
		OfferedAt:      now,
		IsReassignment: true,
	}
	if job.SLASnapshot != nil {
		offer.ExpiresAt = sla.ResponseDeadline(job.SLASnapshot, now)
	} else {
		offer.ExpiresAt = now.Add(30 * time.Minute)
	}
	if err := h.Store.InsertOffers(ctx, []domain.Assignment{offer}); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.Bus.Publish(eventbus.ProviderReassigned{
		JobID:         jobID,
		OldProviderID: oldProviderID,
		NewProviderID: newProviderID,
		Reason:        reason,
		At:            now,
	})

	writeJSON(w, http.StatusOK, struct {
		JobID         string `json:"job_id"`
		NewProviderID string `json:"new_provider_id"`
	}{JobID: jobID.String(), NewProviderID: newProviderID.String()})
}
