package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fielddispatch/gateway/internal/apperr"
	"github.com/fielddispatch/gateway/internal/authn"
	"github.com/fielddispatch/gateway/internal/cache"
	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/geo"
	"github.com/fielddispatch/gateway/internal/lifecycle"
	"github.com/fielddispatch/gateway/internal/observability"
	"github.com/fielddispatch/gateway/internal/security"
)

func assignmentResponse(a *domain.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:         a.ID.String(),
		JobID:      a.JobID.String(),
		ProviderID: a.ProviderID.String(),
		Status:     string(a.Status),
		OfferedAt:  a.OfferedAt,
		ExpiresAt:  a.ExpiresAt,
		MatchScore: a.MatchScore,

		SLAResponseDeadline:   a.SLAResponseDeadline,
		SLAArrivalDeadline:    a.SLAArrivalDeadline,
		SLACompletionDeadline: a.SLACompletionDeadline,
		SLAResponseMet:        a.SLAResponseMet,
		SLAArrivalMet:         a.SLAArrivalMet,
		SLACompletionMet:      a.SLACompletionMet,

		EnRouteAt:     a.EnRouteAt,
		ArrivedAt:     a.ArrivedAt,
		StartedWorkAt: a.StartedWorkAt,
		CompletedAt:   a.CompletedAt,
	}
}

// callingProvider resolves the provider profile owned by the
// authenticated principal, 404ing if the user has none.
func (h *Handler) callingProvider(w http.ResponseWriter, r *http.Request) (*domain.Provider, bool) {
	principal, _ := authn.FromContext(r.Context())
	p, err := h.Store.GetProviderByUserID(r.Context(), principal.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if p == nil {
		h.writeError(w, r, apperr.New(apperr.KindNotFound, "no provider profile for this account"))
		return nil, false
	}
	return p, true
}

// ListPendingOffers implements list_pending_offers.
func (h *Handler) ListPendingOffers(w http.ResponseWriter, r *http.Request) {
	p, ok := h.callingProvider(w, r)
	if !ok {
		return
	}
	offers, err := h.Store.ListPendingOffersForProvider(r.Context(), p.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]AssignmentResponse, 0, len(offers))
	for i := range offers {
		out = append(out, assignmentResponse(&offers[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// AcceptOffer implements accept_offer.
func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	p, ok := h.callingProvider(w, r)
	if !ok {
		return
	}
	jobID, err := domain.ParseID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}

	ctx := r.Context()
	observability.AnnotateProvider(ctx, p.ID.String())
	offer, err := h.Assignment.Accept(ctx, h.Lifecycle, jobID, p.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	observability.AnnotateOffer(ctx, offer.ID.String(), offer.MatchScore)
	writeJSON(w, http.StatusOK, assignmentResponse(offer))
}

// DeclineOffer implements decline_offer.
func (h *Handler) DeclineOffer(w http.ResponseWriter, r *http.Request) {
	p, ok := h.callingProvider(w, r)
	if !ok {
		return
	}
	jobID, err := domain.ParseID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}
	var req DeclineOfferRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	var reason *string
	if req.Reason != nil {
		s := security.SanitizeFreeText(*req.Reason)
		reason = &s
	}

	observability.AnnotateProvider(r.Context(), p.ID.String())
	if err := h.Assignment.Decline(r.Context(), h.Lifecycle, jobID, p.ID, reason); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// providerJobTransition loads the job, verifies p is its assigned
// provider, and drives the named lifecycle transition.
func (h *Handler) providerJobTransition(w http.ResponseWriter, r *http.Request, to domain.JobStatus) (*domain.Job, bool) {
	p, ok := h.callingProvider(w, r)
	if !ok {
		return nil, false
	}
	jobID, err := domain.ParseID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return nil, false
	}

	ctx := r.Context()
	job, err := h.Store.GetJob(ctx, jobID)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if job == nil || job.AssignedProviderID == nil || *job.AssignedProviderID != p.ID {
		h.writeError(w, r, apperr.NotFound("job", jobID))
		return nil, false
	}

	job, err = h.Lifecycle.Transition(ctx, jobID, to, lifecycle.ActorProvider, nil)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	observability.AnnotateJob(ctx, job.ID.String(), string(job.Priority), string(job.Status))
	observability.AnnotateProvider(ctx, p.ID.String())
	return job, true
}

// MarkEnRoute implements mark_en_route: advances the job and opens the
// realtime tracking session so location updates resolve to this job.
func (h *Handler) MarkEnRoute(w http.ResponseWriter, r *http.Request) {
	var req MarkEnRouteRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	job, ok := h.providerJobTransition(w, r, domain.JobProviderEnRoute)
	if !ok {
		return
	}
	if err := h.Assignment.RecordEnRoute(r.Context(), job, *job.AssignedProviderID, time.Now().UTC()); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.Hub != nil {
		h.Hub.Sessions().Start(*job.AssignedProviderID, job.ID, geo.Point{Lat: job.Lat, Lng: job.Lng})
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

// MarkArrived implements mark_arrived. Arrival has no dedicated job
// status; it stamps ArrivedAt on the current (provider_en_route) job and
// notifies the job room directly.
func (h *Handler) MarkArrived(w http.ResponseWriter, r *http.Request) {
	p, ok := h.callingProvider(w, r)
	if !ok {
		return
	}
	jobID, err := domain.ParseID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}

	ctx := r.Context()
	job, err := h.Store.LoadJobForUpdate(ctx, jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if job == nil || job.AssignedProviderID == nil || *job.AssignedProviderID != p.ID {
		h.writeError(w, r, apperr.NotFound("job", jobID))
		return
	}
	if job.Status != domain.JobProviderEnRoute {
		h.writeError(w, r, apperr.New(apperr.KindInvalidTransition, "job is not en route"))
		return
	}
	now := time.Now().UTC()
	job.ArrivedAt = &now
	job.Version++
	if err := h.Store.SaveJob(ctx, job); err != nil {
		h.writeError(w, r, err)
		return
	}
	observability.AnnotateJob(ctx, job.ID.String(), string(job.Priority), string(job.Status))
	observability.AnnotateProvider(ctx, p.ID.String())
	if err := h.Assignment.RecordArrival(ctx, job.ID, p.ID, now); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.Hub != nil {
		h.Hub.BroadcastToJob(job.ID, "job:provider_arrived", map[string]any{
			"job_id": job.ID.String(),
			"at":     now,
		})
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

// MarkStarted implements mark_started.
func (h *Handler) MarkStarted(w http.ResponseWriter, r *http.Request) {
	job, ok := h.providerJobTransition(w, r, domain.JobInProgress)
	if !ok {
		return
	}
	if err := h.Assignment.RecordStarted(r.Context(), job.ID, *job.AssignedProviderID, time.Now().UTC()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

// MarkCompleted implements mark_completed: advances the job and closes
// the realtime tracking session.
func (h *Handler) MarkCompleted(w http.ResponseWriter, r *http.Request) {
	job, ok := h.providerJobTransition(w, r, domain.JobCompleted)
	if !ok {
		return
	}
	if err := h.Assignment.RecordCompletion(r.Context(), job.ID, *job.AssignedProviderID, time.Now().UTC()); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.Hub != nil {
		h.Hub.Sessions().Stop(*job.AssignedProviderID, job.ID)
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

// UpdateLocation implements update_location: a general location ping used
// outside of an active tracking session (e.g. for provider-availability
// geo search). Providers already en route to a job stream updates over
// the realtime duplex channel instead.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	p, ok := h.callingProvider(w, r)
	if !ok {
		return
	}
	var req UpdateLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := security.ValidateStruct(req); err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	if err := h.Cache.UpdateProviderGeo(ctx, p.ID.String(), req.Lat, req.Lng); err != nil {
		h.writeError(w, r, err)
		return
	}
	detail := cache.ProviderDetail{Heading: req.Heading, Speed: req.Speed, UpdatedAt: time.Now().UTC()}
	if err := h.Cache.SetProviderDetail(ctx, p.ID.String(), detail, h.Cfg.LocationDetailTTL); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// SetOnline implements set_online: flips the provider's availability flag
// and keeps the geo index in sync so offline providers never surface in a
// matching radius search.
func (h *Handler) SetOnline(w http.ResponseWriter, r *http.Request) {
	p, ok := h.callingProvider(w, r)
	if !ok {
		return
	}
	var req SetOnlineRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	ctx := r.Context()
	if err := h.Store.SetProviderOnline(ctx, p.ID, req.Flag); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Flag {
		if p.HasHomeCoordinates() {
			if err := h.Cache.UpdateProviderGeo(ctx, p.ID.String(), *p.HomeLat, *p.HomeLng); err != nil {
				h.writeError(w, r, err)
				return
			}
		}
	} else {
		if err := h.Cache.RemoveProviderGeo(ctx, p.ID.String()); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// UploadCredential implements upload_credential: records the submission
// as pending_review. Storing and serving the referenced file is an
// external document-store concern the core never touches.
func (h *Handler) UploadCredential(w http.ResponseWriter, r *http.Request) {
	p, ok := h.callingProvider(w, r)
	if !ok {
		return
	}
	var req UploadCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := security.ValidateStruct(req); err != nil {
		badRequest(w, err.Error())
		return
	}

	var taskID *domain.ID
	if req.TaskID != nil {
		id, err := domain.ParseID(*req.TaskID)
		if err != nil {
			badRequest(w, "invalid task_id")
			return
		}
		taskID = &id
	}

	cred := &domain.Credential{
		ID:          domain.NewID(),
		ProviderID:  p.ID,
		TaskID:      taskID,
		Type:        domain.CredentialType(req.Type),
		Name:        string(req.Type),
		Status:      domain.CredentialPendingReview,
		FileRef:     req.FileRef,
		SubmittedAt: time.Now().UTC(),
	}
	if err := h.Store.InsertCredential(r.Context(), cred); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		ID string `json:"id"`
	}{ID: cred.ID.String()})
}
