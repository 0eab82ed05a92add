// Package scoring implements the provider penalty ledger: per-level score
// bounds, the infraction penalty matrix, the Level-4 zero-tolerance
// no-show rule, clamping with automatic suspension, and weekly recovery.
package scoring

import (
	"context"
	"time"

	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/eventbus"
)

// Infraction is a closed set of penalty-triggering events.
type Infraction string

const (
	InfractionResponseTimeout Infraction = "response_timeout"
	InfractionCancellation    Infraction = "cancellation"
	InfractionNoShow          Infraction = "no_show"
	InfractionBadReview       Infraction = "bad_review"
	InfractionSLABreach       Infraction = "sla_breach"
)

// LevelBounds is the (min, base, max) score configuration for one
// provider level.
type LevelBounds struct {
	Min, Base, Max float64
}

var levelBounds = map[domain.ProviderLevel]LevelBounds{
	domain.Level1: {Min: 40, Base: 70, Max: 90},
	domain.Level2: {Min: 50, Base: 75, Max: 95},
	domain.Level3: {Min: 60, Base: 80, Max: 98},
	domain.Level4: {Min: 70, Base: 85, Max: 100},
}

// penaltyMatrix is the absolute points deducted per infraction, per level.
// An absent entry means the infraction does not apply at that level.
var penaltyMatrix = map[Infraction]map[domain.ProviderLevel]float64{
	InfractionResponseTimeout: {domain.Level1: 2, domain.Level2: 4, domain.Level3: 6, domain.Level4: 15},
	InfractionCancellation:    {domain.Level1: 3, domain.Level2: 6, domain.Level3: 10, domain.Level4: 25},
	InfractionNoShow:          {domain.Level1: 10, domain.Level2: 15, domain.Level3: 30}, // Level4 handled by zero-tolerance
	InfractionBadReview:       {domain.Level1: 5, domain.Level2: 7, domain.Level3: 10},
	InfractionSLABreach:       {domain.Level4: 30},
}

// recoveryMaxPoints is the at-most-5-points weekly normalization ceiling.
const recoveryMaxPoints = 5

// Store is the persistence seam for score mutations. Load/Save must run
// under a row lock on the provider profile; penalty records are append-only.
type Store interface {
	LoadProviderForUpdate(ctx context.Context, providerID domain.ID) (*domain.Provider, error)
	SaveProvider(ctx context.Context, provider *domain.Provider) error
	AppendPenaltyRecord(ctx context.Context, rec domain.PenaltyRecord) error
	ProvidersEligibleForRecovery(ctx context.Context, asOf time.Time) ([]domain.ID, error)
	RecentPenaltyCount(ctx context.Context, providerID domain.ID, since time.Time) (int, error)
}

// Ledger applies penalties, admin adjustments, and recovery.
type Ledger struct {
	store Store
	bus   *eventbus.Bus
	now   func() time.Time
}

// New builds a Ledger.
func New(store Store, bus *eventbus.Bus) *Ledger {
	return &Ledger{store: store, bus: bus, now: time.Now}
}

// ApplyPenalty deducts the level-appropriate points for infraction from
// provider's current score, applying the Level-4 no-show zero-tolerance
// rule and clamping to the level minimum (suspending on clamp).
func (l *Ledger) ApplyPenalty(ctx context.Context, providerID domain.ID, jobID *domain.ID, infraction Infraction, reason string) (*domain.Provider, error) {
	p, err := l.store.LoadProviderForUpdate(ctx, providerID)
	if err != nil {
		return nil, err
	}

	bounds := levelBounds[p.Level]
	now := l.now()

	var delta float64
	if p.Level == domain.Level4 && infraction == InfractionNoShow {
		delta = -p.InternalScore // zero-tolerance: drops the entire prior score
		p.InternalScore = 0
		p.Status = domain.ProviderSuspended
	} else {
		points := penaltyMatrix[infraction][p.Level]
		delta = -points
		p.InternalScore += delta
		if p.InternalScore < bounds.Min {
			p.InternalScore = bounds.Min
			p.Status = domain.ProviderSuspended
		}
	}

	if err := l.store.SaveProvider(ctx, p); err != nil {
		return nil, err
	}

	rec := domain.PenaltyRecord{
		ID:          domain.NewID(),
		ProviderID:  providerID,
		JobID:       jobID,
		Kind:        string(infraction),
		DeltaPoints: delta,
		Reason:      reason,
		CreatedAt:   now,
	}
	if err := l.store.AppendPenaltyRecord(ctx, rec); err != nil {
		return nil, err
	}

	l.bus.Publish(eventbus.PenaltyApplied{
		ProviderID:  providerID,
		JobID:       jobID,
		Kind:        string(infraction),
		DeltaPoints: delta,
		NewScore:    p.InternalScore,
		At:          now,
	})

	return p, nil
}

// AdjustScore applies an admin-directed delta, clamped to [min, max] for
// the provider's level, and appends an audit record.
func (l *Ledger) AdjustScore(ctx context.Context, providerID domain.ID, delta float64, reason string) (*domain.Provider, error) {
	p, err := l.store.LoadProviderForUpdate(ctx, providerID)
	if err != nil {
		return nil, err
	}
	bounds := levelBounds[p.Level]

	p.InternalScore += delta
	if p.InternalScore < bounds.Min {
		p.InternalScore = bounds.Min
	}
	if p.InternalScore > bounds.Max {
		p.InternalScore = bounds.Max
	}

	if err := l.store.SaveProvider(ctx, p); err != nil {
		return nil, err
	}

	now := l.now()
	rec := domain.PenaltyRecord{
		ID:          domain.NewID(),
		ProviderID:  providerID,
		Kind:        "admin_adjustment",
		DeltaPoints: delta,
		Reason:      reason,
		CreatedAt:   now,
	}
	if err := l.store.AppendPenaltyRecord(ctx, rec); err != nil {
		return nil, err
	}

	return p, nil
}

// RunWeeklyRecovery restores up to 5 points to every provider below their
// level's base score who has had zero penalties in the preceding 7 days.
// Eligibility and penalty-freedom are both driven by scanning PenaltyRecord
// timestamps rather than any in-memory state, so recovery is correct
// regardless of how many gateway instances run the sweep.
func (l *Ledger) RunWeeklyRecovery(ctx context.Context) error {
	now := l.now()
	weekAgo := now.Add(-7 * 24 * time.Hour)

	candidates, err := l.store.ProvidersEligibleForRecovery(ctx, now)
	if err != nil {
		return err
	}

	for _, providerID := range candidates {
		count, err := l.store.RecentPenaltyCount(ctx, providerID, weekAgo)
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		p, err := l.store.LoadProviderForUpdate(ctx, providerID)
		if err != nil {
			return err
		}
		bounds := levelBounds[p.Level]
		if p.InternalScore >= bounds.Base {
			continue
		}

		delta := bounds.Base - p.InternalScore
		if delta > recoveryMaxPoints {
			delta = recoveryMaxPoints
		}
		p.InternalScore += delta

		if err := l.store.SaveProvider(ctx, p); err != nil {
			return err
		}

		rec := domain.PenaltyRecord{
			ID:          domain.NewID(),
			ProviderID:  providerID,
			Kind:        "weekly_recovery",
			DeltaPoints: delta,
			Reason:      "automatic weekly normalization",
			CreatedAt:   now,
		}
		if err := l.store.AppendPenaltyRecord(ctx, rec); err != nil {
			return err
		}

		l.bus.Publish(eventbus.ScoreRecovered{
			ProviderID:  providerID,
			DeltaPoints: delta,
			NewScore:    p.InternalScore,
			At:          now,
		})
	}
	return nil
}

// LevelBoundsFor exposes the configured (min, base, max) for a level.
func LevelBoundsFor(level domain.ProviderLevel) LevelBounds {
	return levelBounds[level]
}
