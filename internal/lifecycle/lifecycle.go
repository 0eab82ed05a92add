// Package lifecycle governs the job status state machine: the
// authoritative (from, to, actor) transition table, the side effects each
// transition must record, and the event each transition must publish.
package lifecycle

import (
	"context"
	"time"

	"github.com/fielddispatch/gateway/internal/apperr"
	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/eventbus"
)

// Actor is the kind of caller attempting a transition.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorProvider Actor = "provider"
	ActorSystem   Actor = "system"
	ActorAdmin    Actor = "admin"
)

type transitionKey struct {
	From domain.JobStatus
	To   domain.JobStatus
}

// transitions is the authoritative table. A (from, to) pair maps to the
// set of actors permitted to drive it. Any triple absent from this table
// is an InvalidTransition.
var transitions = map[transitionKey]map[Actor]bool{
	{domain.JobDraft, domain.JobPendingMatch}:              actors(ActorCustomer, ActorSystem),
	{domain.JobDraft, domain.JobCancelledCustomer}:          actors(ActorCustomer),
	{domain.JobPendingMatch, domain.JobMatched}:             actors(ActorSystem),
	{domain.JobPendingMatch, domain.JobCancelledCustomer}:   actors(ActorCustomer),
	{domain.JobPendingMatch, domain.JobCancelledSystem}:     actors(ActorSystem, ActorAdmin),
	{domain.JobMatched, domain.JobPendingApproval}:          actors(ActorSystem, ActorProvider),
	{domain.JobMatched, domain.JobPendingMatch}:              actors(ActorSystem),
	{domain.JobMatched, domain.JobCancelledCustomer}:        actors(ActorCustomer),
	{domain.JobPendingApproval, domain.JobScheduled}:         actors(ActorCustomer, ActorSystem),
	{domain.JobPendingApproval, domain.JobProviderAccepted}: actors(ActorCustomer),
	{domain.JobPendingApproval, domain.JobPendingMatch}:      actors(ActorCustomer),
	{domain.JobPendingApproval, domain.JobCancelledCustomer}: actors(ActorCustomer),
	{domain.JobScheduled, domain.JobProviderAccepted}:        actors(ActorSystem),
	{domain.JobScheduled, domain.JobCancelledCustomer}:       actors(ActorCustomer),
	{domain.JobScheduled, domain.JobCancelledProvider}:       actors(ActorProvider),
	{domain.JobScheduled, domain.JobCancelledSystem}:         actors(ActorSystem),
	{domain.JobProviderAccepted, domain.JobProviderEnRoute}:  actors(ActorProvider),
	{domain.JobProviderAccepted, domain.JobCancelledProvider}: actors(ActorProvider),
	{domain.JobProviderAccepted, domain.JobCancelledCustomer}: actors(ActorCustomer),
	{domain.JobProviderEnRoute, domain.JobInProgress}:        actors(ActorProvider),
	{domain.JobProviderEnRoute, domain.JobCancelledProvider}: actors(ActorProvider, ActorSystem),
	{domain.JobProviderEnRoute, domain.JobCancelledCustomer}: actors(ActorProvider, ActorSystem),
	{domain.JobProviderEnRoute, domain.JobCancelledSystem}:   actors(ActorProvider, ActorSystem),
	{domain.JobInProgress, domain.JobCompleted}:              actors(ActorProvider),
	{domain.JobInProgress, domain.JobDisputed}:                actors(ActorCustomer, ActorProvider),
	{domain.JobCompleted, domain.JobRefunded}:                 actors(ActorAdmin),
	{domain.JobCompleted, domain.JobDisputed}:                 actors(ActorCustomer),
}

func actors(kinds ...Actor) map[Actor]bool {
	m := make(map[Actor]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

// Store is the persistence seam: load-verify-update under row lock.
type Store interface {
	LoadJobForUpdate(ctx context.Context, jobID domain.ID) (*domain.Job, error)
	SaveJob(ctx context.Context, job *domain.Job) error
}

// Machine drives job transitions and their side effects.
type Machine struct {
	store Store
	bus   *eventbus.Bus
	now   func() time.Time
}

// New builds a Machine.
func New(store Store, bus *eventbus.Bus) *Machine {
	return &Machine{store: store, bus: bus, now: time.Now}
}

// Transition attempts to move job jobID from its current status to `to`
// as the given actor, recording the cancellation reason when applicable.
// It loads the job under a row lock, validates the transition, applies
// the required side effects, persists, and publishes JobStatusChanged.
func (m *Machine) Transition(ctx context.Context, jobID domain.ID, to domain.JobStatus, actor Actor, cancelReason *string) (*domain.Job, error) {
	job, err := m.store.LoadJobForUpdate(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperr.New(apperr.KindNotFound, "job not found")
	}

	allowedActors, ok := transitions[transitionKey{From: job.Status, To: to}]
	if !ok || !allowedActors[actor] {
		return nil, apperr.New(apperr.KindInvalidTransition,
			string(job.Status)+" -> "+string(to)+" not permitted for actor "+string(actor))
	}

	old := job.Status
	now := m.now()
	job.Status = to

	switch to {
	case domain.JobInProgress:
		job.StartedAt = &now
	case domain.JobCompleted:
		job.CompletedAt = &now
	case domain.JobCancelledCustomer, domain.JobCancelledProvider, domain.JobCancelledSystem:
		job.CancelledAt = &now
		job.CancelReason = cancelReason
	}
	job.Version++

	if err := m.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	if m.bus != nil {
		m.bus.Publish(eventbus.JobStatusChanged{
			JobID: job.ID,
			Old:   old,
			New:   to,
			Actor: string(actor),
			At:    now,
		})
		if to == domain.JobCompleted {
			m.bus.Publish(eventbus.JobCompleted{JobID: job.ID, At: now})
		}
		if to == domain.JobCancelledCustomer || to == domain.JobCancelledProvider || to == domain.JobCancelledSystem {
			m.bus.Publish(eventbus.JobCancelled{JobID: job.ID, By: string(actor), At: now})
		}
	}

	return job, nil
}

// CanTransition reports whether (from, to, actor) is permitted, without
// touching the store. Useful for UI affordance checks.
func CanTransition(from, to domain.JobStatus, actor Actor) bool {
	allowed, ok := transitions[transitionKey{From: from, To: to}]
	return ok && allowed[actor]
}
