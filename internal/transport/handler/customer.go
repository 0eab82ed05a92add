package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fielddispatch/gateway/internal/apperr"
	"github.com/fielddispatch/gateway/internal/authn"
	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/eventbus"
	"github.com/fielddispatch/gateway/internal/lifecycle"
	"github.com/fielddispatch/gateway/internal/observability"
	"github.com/fielddispatch/gateway/internal/pricing"
	"github.com/fielddispatch/gateway/internal/providermatch"
	"github.com/fielddispatch/gateway/internal/refgen"
	"github.com/fielddispatch/gateway/internal/scoring"
	"github.com/fielddispatch/gateway/internal/security"
	"github.com/fielddispatch/gateway/internal/sla"
)

const broadcastPoolSize = 10

func jobResponse(j *domain.Job) JobResponse {
	resp := JobResponse{
		ID:              j.ID.String(),
		Reference:       j.Reference,
		Status:          string(j.Status),
		TaskID:          j.TaskID.String(),
		Priority:        string(j.Priority),
		Lat:             j.Lat,
		Lng:             j.Lng,
		Address:         j.Address,
		PriceMinCents:   j.PriceMinCents,
		PriceMaxCents:   j.PriceMaxCents,
		FinalPriceCents: j.FinalPriceCents,
		CommissionCents: j.CommissionCents,
		PayoutCents:     j.PayoutCents,
		CreatedAt:       j.CreatedAt,
		ScheduledAt:     j.ScheduledAt,
		CompletedAt:     j.CompletedAt,
		CancelledAt:     j.CancelledAt,
	}
	if j.AssignedProviderID != nil {
		id := j.AssignedProviderID.String()
		resp.AssignedProviderID = &id
	}
	return resp
}

func priceBreakdownResponse(b *pricing.Breakdown) PriceBreakdownResponse {
	return PriceBreakdownResponse{
		JobID:             b.JobID.String(),
		BasePriceMinCents: b.BasePriceMinCents,
		BasePriceMaxCents: b.BasePriceMaxCents,
		NightMultiplier:   b.NightMultiplier,
		WeatherMultiplier: b.WeatherMultiplier,
		HolidayMultiplier: b.HolidayMultiplier,
		DemandMultiplier:  b.DemandMultiplier,
		FinalPriceCents:   b.FinalPriceCents,
		CommissionRate:    b.CommissionRate,
		CommissionCents:   b.CommissionCents,
		PayoutCents:       b.PayoutCents,
		ComputedAt:        b.ComputedAt,
	}
}

// CreateJob implements create_job: resolve the task, snapshot its SLA,
// price it, persist it, and run the matching pipeline once so a job with
// qualified providers available is broadcast immediately rather than
// waiting on the next sweep.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	principal, _ := authn.FromContext(r.Context())

	var req CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := security.ValidateStruct(req); err != nil {
		badRequest(w, err.Error())
		return
	}

	taskID, err := domain.ParseID(req.TaskID)
	if err != nil {
		badRequest(w, "invalid task_id")
		return
	}

	ctx := r.Context()
	task, err := h.Catalog.ResolveTask(ctx, taskID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !task.HasBasePrice() {
		h.writeError(w, r, apperr.New(apperr.KindPricingUnavailable, "task has no base price configured"))
		return
	}

	priority := domain.JobPriority(req.Priority)
	if req.IsEmergency {
		priority = domain.PriorityEmergency
	}
	if priority == domain.PriorityEmergency && !task.EmergencyEligible {
		badRequest(w, "task is not emergency eligible")
		return
	}

	now := time.Now().UTC()
	serviceRegion := req.ServiceRegion

	profile, err := h.Catalog.FindSLA(ctx, task.RequiredLevel, req.Country, taskID, serviceRegion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	snapshot := sla.CaptureSnapshot(profile, now)

	pricingInput := pricing.Input{
		TaskID:        taskID,
		Lat:           req.Lat,
		Lng:           req.Lng,
		RequestedAt:   now,
		IsEmergency:   priority == domain.PriorityEmergency,
		Country:       req.Country,
		ProviderLevel: task.RequiredLevel,
	}
	estimate, err := h.Pricing.Estimate(ctx, pricingInput)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ref, err := refgen.Unique(ctx, h.Store.ReferenceExists)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	jobID := domain.NewID()
	pricingEvent, err := h.Pricing.CapturePricingEvent(ctx, jobID, pricingInput)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	job := &domain.Job{
		ID:              jobID,
		Reference:       ref,
		CustomerID:      principal.UserID,
		TaskID:          taskID,
		Priority:        priority,
		Status:          domain.JobDraft,
		Description:     task.Name,
		Lat:             req.Lat,
		Lng:             req.Lng,
		Address:         req.Address,
		Notes:           security.SanitizeNotes(req.Notes),
		RequestedAt:     req.Schedule,
		RequiredLevel:   task.RequiredLevel,
		SLASnapshot:     snapshot,
		PriceMinCents:   &estimate.FinalMinCents,
		PriceMaxCents:   &estimate.FinalMaxCents,
		FinalPriceCents: &pricingEvent.FinalPriceCents,
		CommissionRate:  &pricingEvent.CommissionRate,
		CommissionCents: &pricingEvent.CommissionCents,
		PayoutCents:     &pricingEvent.PayoutCents,
		CreatedAt:       now,
		Version:         0,
	}
	if err := h.Store.InsertJob(ctx, job); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Store.InsertPricingEvent(ctx, pricingEvent); err != nil {
		h.writeError(w, r, err)
		return
	}
	observability.AnnotateJob(ctx, job.ID.String(), string(job.Priority), string(job.Status))

	h.Bus.Publish(eventbus.JobCreated{JobID: job.ID, CustomerID: job.CustomerID, TaskID: job.TaskID, At: now})
	var slaProfileID *domain.ID
	if snapshot != nil {
		slaProfileID = &snapshot.SLAProfileID
	}
	h.Bus.Publish(eventbus.SlaSnapshotCaptured{JobID: job.ID, SLAProfileID: slaProfileID, At: now})

	job, err = h.Lifecycle.Transition(ctx, job.ID, domain.JobPendingMatch, lifecycle.ActorCustomer, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ranked, err := providermatch.FindMatchingProviders(ctx, h.Qualifier, task.RequiredLevel, taskID, principal.UserID, req.Lat, req.Lng, 0, broadcastPoolSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(ranked) > 0 {
		job, err = h.Lifecycle.Transition(ctx, job.ID, domain.JobMatched, lifecycle.ActorSystem, nil)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := h.Assignment.Broadcast(ctx, job, ranked); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, jobResponse(job))
}

// CancelJob implements cancel_job.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	principal, _ := authn.FromContext(r.Context())
	jobID, err := domain.ParseID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}
	var req CancelJobRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := security.ValidateStruct(req); err != nil {
		badRequest(w, err.Error())
		return
	}
	reason := security.SanitizeFreeText(req.Reason)

	ctx := r.Context()
	job, err := h.Store.GetJob(ctx, jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if job == nil || job.CustomerID != principal.UserID {
		h.writeError(w, r, apperr.NotFound("job", jobID))
		return
	}

	job, err = h.Lifecycle.Transition(ctx, jobID, domain.JobCancelledCustomer, lifecycle.ActorCustomer, &reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Assignment.Reassign(ctx, h.Lifecycle, job, reason); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(job))
}

// ListActiveJobs implements list_active_jobs.
func (h *Handler) ListActiveJobs(w http.ResponseWriter, r *http.Request) {
	principal, _ := authn.FromContext(r.Context())
	jobs, err := h.Store.ListActiveJobsForCustomer(r.Context(), principal.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]JobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobResponse(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// ApproveProvider implements approve_provider. The canonical post-approval
// state is scheduled.
func (h *Handler) ApproveProvider(w http.ResponseWriter, r *http.Request) {
	h.customerJobTransition(w, r, domain.JobScheduled, nil)
}

// RejectProvider implements reject_provider: the job returns to
// pending_match so a fresh broadcast can run against the remaining pool.
func (h *Handler) RejectProvider(w http.ResponseWriter, r *http.Request) {
	h.customerJobTransition(w, r, domain.JobPendingMatch, nil)
}

func (h *Handler) customerJobTransition(w http.ResponseWriter, r *http.Request, to domain.JobStatus, reason *string) {
	principal, _ := authn.FromContext(r.Context())
	jobID, err := domain.ParseID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}

	ctx := r.Context()
	job, err := h.Store.GetJob(ctx, jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if job == nil || job.CustomerID != principal.UserID {
		h.writeError(w, r, apperr.NotFound("job", jobID))
		return
	}

	job, err = h.Lifecycle.Transition(ctx, jobID, to, lifecycle.ActorCustomer, reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

// PriceBreakdown implements price_breakdown: it reconstructs the pricing
// rationale for one of the caller's jobs, favoring the recorded
// PricingEvent over the job's own persisted fields.
func (h *Handler) PriceBreakdown(w http.ResponseWriter, r *http.Request) {
	principal, _ := authn.FromContext(r.Context())
	jobID, err := domain.ParseID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}

	ctx := r.Context()
	job, err := h.Store.GetJob(ctx, jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if job == nil || job.CustomerID != principal.UserID {
		h.writeError(w, r, apperr.NotFound("job", jobID))
		return
	}

	observability.AnnotateJob(ctx, job.ID.String(), string(job.Priority), string(job.Status))
	breakdown, err := h.Pricing.Breakdown(ctx, jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, priceBreakdownResponse(breakdown))
}

// RateJob implements rate_job: it records the star score and optional
// feedback against a completed job. Nothing beyond the record itself —
// moderation, aggregation, and the compose UI live outside the core.
func (h *Handler) RateJob(w http.ResponseWriter, r *http.Request) {
	principal, _ := authn.FromContext(r.Context())
	jobID, err := domain.ParseID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}
	var req RateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := security.ValidateStruct(req); err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	job, err := h.Store.GetJob(ctx, jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if job == nil || job.CustomerID != principal.UserID {
		h.writeError(w, r, apperr.NotFound("job", jobID))
		return
	}
	if job.Status != domain.JobCompleted {
		h.writeError(w, r, apperr.New(apperr.KindValidationFailed, "job is not completed"))
		return
	}
	if job.AssignedProviderID == nil {
		h.writeError(w, r, apperr.New(apperr.KindFatal, "completed job has no assigned provider"))
		return
	}

	var feedback *string
	if req.Feedback != nil {
		s := security.SanitizeFreeText(*req.Feedback)
		feedback = &s
	}

	rating := &domain.Rating{
		ID:         domain.NewID(),
		JobID:      job.ID,
		ProviderID: *job.AssignedProviderID,
		CustomerID: principal.UserID,
		Stars:      req.Stars,
		Feedback:   feedback,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.InsertRating(ctx, rating); err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.Stars <= 2 {
		reason := fmt.Sprintf("customer rating of %d stars", req.Stars)
		if _, err := h.Scoring.ApplyPenalty(ctx, rating.ProviderID, &job.ID, scoring.InfractionBadReview, reason); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, struct {
		ID string `json:"id"`
	}{ID: rating.ID.String()})
}
