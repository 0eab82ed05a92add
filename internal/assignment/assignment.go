// Package assignment implements the broadcast-accept coordinator: offer
// broadcast to the ranked candidate list, first-acceptance-wins accept,
// decline, periodic expiry sweep, and admin reassignment.
package assignment

import (
	"context"
	"time"

	"github.com/fielddispatch/gateway/internal/apperr"
	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/eventbus"
	"github.com/fielddispatch/gateway/internal/lifecycle"
	"github.com/fielddispatch/gateway/internal/observability"
	"github.com/fielddispatch/gateway/internal/providermatch"
	"github.com/fielddispatch/gateway/internal/sla"
)

// Store is the persistence seam for assignment operations. AcceptOffer
// must be implemented as a single conditional update guarded by
// status='offered' AND job.status IN ('matched','pending_match'), so that
// exactly one concurrent accept succeeds; every other caller observes
// rowsAffected == 0 and the coordinator returns OfferAlreadyResponded.
type Store interface {
	InsertOffers(ctx context.Context, offers []domain.Assignment) error
	LoadOffer(ctx context.Context, jobID, providerID domain.ID) (*domain.Assignment, error)
	AcceptOffer(ctx context.Context, assignmentID, jobID domain.ID, respondedAt time.Time, responseMet bool) (accepted bool, err error)
	SetAssignmentArrivalDeadline(ctx context.Context, assignmentID domain.ID, deadline *time.Time) error
	SetAssignmentEnRoute(ctx context.Context, assignmentID domain.ID, enRouteAt time.Time, completionDeadline *time.Time) error
	SetAssignmentArrival(ctx context.Context, assignmentID domain.ID, arrivedAt time.Time, met bool) error
	SetAssignmentStarted(ctx context.Context, assignmentID domain.ID, startedAt time.Time) error
	SetAssignmentCompleted(ctx context.Context, assignmentID domain.ID, completedAt time.Time, met bool) error
	DeclineOtherOffers(ctx context.Context, jobID, acceptedAssignmentID domain.ID, respondedAt time.Time) error
	DeclineOffer(ctx context.Context, assignmentID domain.ID, reason *string, respondedAt time.Time) error
	OutstandingOfferCount(ctx context.Context, jobID domain.ID) (int, error)
	ExpireOffers(ctx context.Context, asOf time.Time) ([]domain.Assignment, error)
	CancelActiveOffers(ctx context.Context, jobID domain.ID, reason *string) error
}

// LifecycleMachine is the subset of internal/lifecycle.Machine the
// coordinator drives; kept as an interface so tests can stub it.
type LifecycleMachine interface {
	Transition(ctx context.Context, jobID domain.ID, to domain.JobStatus, actor lifecycle.Actor, cancelReason *string) (*domain.Job, error)
}

// Coordinator runs the broadcast/accept/decline/expiry/reassign cycle.
type Coordinator struct {
	store Store
	bus   *eventbus.Bus
	now   func() time.Time
}

// New builds a Coordinator.
func New(store Store, bus *eventbus.Bus) *Coordinator {
	return &Coordinator{store: store, bus: bus, now: time.Now}
}

// Broadcast inserts one offered Assignment per ranked candidate and emits
// a new_offer event to each provider's personal channel via the realtime
// layer (the bus publication here is the integration seam; internal/realtime
// subscribes and fans it out to the provider's room).
func (c *Coordinator) Broadcast(ctx context.Context, job *domain.Job, ranked []providermatch.Ranked) error {
	observability.AnnotateJob(ctx, job.ID.String(), string(job.Priority), string(job.Status))
	now := c.now()
	offers := make([]domain.Assignment, 0, len(ranked))
	for _, r := range ranked {
		expires := sla.ResponseDeadline(job.SLASnapshot, now)
		offers = append(offers, domain.Assignment{
			ID:                  domain.NewID(),
			JobID:               job.ID,
			ProviderID:          r.Provider.ID,
			Status:              domain.AssignmentOffered,
			OfferedAt:           now,
			ExpiresAt:           expires,
			MatchScore:          r.Score,
			SLAResponseDeadline: expires,
		})
	}
	if err := c.store.InsertOffers(ctx, offers); err != nil {
		return err
	}
	for _, o := range offers {
		c.bus.Publish(eventbus.ProviderAssigned{JobID: job.ID, ProviderID: o.ProviderID, At: now})
	}
	return nil
}

// Accept handles provider P's acceptance of job J's offer under the
// first-wins protocol: exactly one concurrent accept succeeds.
func (c *Coordinator) Accept(ctx context.Context, lc LifecycleMachine, jobID, providerID domain.ID) (*domain.Assignment, error) {
	offer, err := c.store.LoadOffer(ctx, jobID, providerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, apperr.New(apperr.KindOfferNotFound, "no offer for this job and provider")
	}
	if offer.Status != domain.AssignmentOffered {
		return nil, apperr.New(apperr.KindOfferAlreadyResponded, "offer already responded to")
	}

	now := c.now()
	responseMet := sla.Met(now, &offer.SLAResponseDeadline)
	ok, err := c.store.AcceptOffer(ctx, offer.ID, jobID, now, responseMet)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindOfferAlreadyResponded, "another provider already accepted this job")
	}

	if err := c.store.DeclineOtherOffers(ctx, jobID, offer.ID, now); err != nil {
		return nil, err
	}

	job, err := lc.Transition(ctx, jobID, domain.JobPendingApproval, lifecycle.ActorSystem, nil)
	if err != nil {
		return nil, err
	}

	arrivalDeadline := sla.ArrivalDeadline(job.SLASnapshot, now)
	if err := c.store.SetAssignmentArrivalDeadline(ctx, offer.ID, arrivalDeadline); err != nil {
		return nil, err
	}

	c.bus.Publish(eventbus.ProviderAssigned{JobID: jobID, ProviderID: providerID, At: now})

	offer.Status = domain.AssignmentAccepted
	offer.RespondedAt = &now
	offer.SLAResponseMet = &responseMet
	offer.SLAArrivalDeadline = arrivalDeadline
	return offer, nil
}

// RecordEnRoute marks the accepted assignment's en-route timestamp and
// computes the completion deadline from the job's SLA snapshot (§4.H).
func (c *Coordinator) RecordEnRoute(ctx context.Context, job *domain.Job, providerID domain.ID, enRouteAt time.Time) error {
	offer, err := c.store.LoadOffer(ctx, job.ID, providerID)
	if err != nil {
		return err
	}
	if offer == nil {
		return apperr.New(apperr.KindOfferNotFound, "no accepted offer for this job and provider")
	}
	deadline := sla.CompletionDeadline(job.SLASnapshot, enRouteAt)
	return c.store.SetAssignmentEnRoute(ctx, offer.ID, enRouteAt, deadline)
}

// RecordArrival marks the accepted assignment's arrival timestamp and
// sets sla_arrival_met against the deadline captured at acceptance.
func (c *Coordinator) RecordArrival(ctx context.Context, jobID, providerID domain.ID, arrivedAt time.Time) error {
	offer, err := c.store.LoadOffer(ctx, jobID, providerID)
	if err != nil {
		return err
	}
	if offer == nil {
		return apperr.New(apperr.KindOfferNotFound, "no accepted offer for this job and provider")
	}
	met := sla.Met(arrivedAt, offer.SLAArrivalDeadline)
	return c.store.SetAssignmentArrival(ctx, offer.ID, arrivedAt, met)
}

// RecordStarted marks the accepted assignment's started_work_at timestamp.
func (c *Coordinator) RecordStarted(ctx context.Context, jobID, providerID domain.ID, startedAt time.Time) error {
	offer, err := c.store.LoadOffer(ctx, jobID, providerID)
	if err != nil {
		return err
	}
	if offer == nil {
		return apperr.New(apperr.KindOfferNotFound, "no accepted offer for this job and provider")
	}
	return c.store.SetAssignmentStarted(ctx, offer.ID, startedAt)
}

// RecordCompletion marks the accepted assignment's completed_at timestamp
// and sets sla_completion_met against the deadline captured at en-route.
func (c *Coordinator) RecordCompletion(ctx context.Context, jobID, providerID domain.ID, completedAt time.Time) error {
	offer, err := c.store.LoadOffer(ctx, jobID, providerID)
	if err != nil {
		return err
	}
	if offer == nil {
		return apperr.New(apperr.KindOfferNotFound, "no accepted offer for this job and provider")
	}
	met := sla.Met(completedAt, offer.SLACompletionDeadline)
	return c.store.SetAssignmentCompleted(ctx, offer.ID, completedAt, met)
}

// Decline marks the caller's own assignment as declined. If no offers on
// the job remain outstanding, it transitions the job back to
// pending_match for re-broadcast.
func (c *Coordinator) Decline(ctx context.Context, lc LifecycleMachine, jobID, providerID domain.ID, reason *string) error {
	offer, err := c.store.LoadOffer(ctx, jobID, providerID)
	if err != nil {
		return err
	}
	if offer == nil {
		return apperr.New(apperr.KindOfferNotFound, "no offer for this job and provider")
	}
	if offer.Status != domain.AssignmentOffered {
		return apperr.New(apperr.KindOfferAlreadyResponded, "offer already responded to")
	}

	now := c.now()
	if err := c.store.DeclineOffer(ctx, offer.ID, reason, now); err != nil {
		return err
	}

	remaining, err := c.store.OutstandingOfferCount(ctx, jobID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		_, err := lc.Transition(ctx, jobID, domain.JobPendingMatch, lifecycle.ActorSystem, nil)
		return err
	}
	return nil
}

// SweepExpired transitions offered assignments whose offer_expires_at has
// passed into expired, returning jobs to pending_match wherever no active
// offers remain.
func (c *Coordinator) SweepExpired(ctx context.Context, lc LifecycleMachine) error {
	now := c.now()
	expired, err := c.store.ExpireOffers(ctx, now)
	if err != nil {
		return err
	}

	seen := make(map[domain.ID]bool)
	for _, a := range expired {
		if seen[a.JobID] {
			continue
		}
		seen[a.JobID] = true

		remaining, err := c.store.OutstandingOfferCount(ctx, a.JobID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			if _, err := lc.Transition(ctx, a.JobID, domain.JobPendingMatch, lifecycle.ActorSystem, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reassign cancels the current offered/accepted assignments on the job,
// resets it to pending_match when applicable, and hands the caller back
// to Broadcast for the new candidate list.
func (c *Coordinator) Reassign(ctx context.Context, lc LifecycleMachine, job *domain.Job, reason string) error {
	if err := c.store.CancelActiveOffers(ctx, job.ID, &reason); err != nil {
		return err
	}
	if job.Status == domain.JobMatched || job.Status == domain.JobProviderAccepted {
		if _, err := lc.Transition(ctx, job.ID, domain.JobPendingMatch, lifecycle.ActorSystem, &reason); err != nil {
			return err
		}
	}
	return nil
}
