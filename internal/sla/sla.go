// Package sla captures per-job SLA snapshots at creation time, computes
// assignment deadlines from that snapshot, and runs the background scanner
// that emits warnings as deadlines approach.
package sla

import (
	"context"
	"time"

	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/eventbus"
)

// CaptureSnapshot resolves the SLA profile for the job's level/country/task
// and copies its deadline fields into an immutable snapshot. A nil profile
// (degraded mode) yields a snapshot whose deadline fields are absent; the
// job proceeds without SLA timers.
func CaptureSnapshot(profile *domain.SLAProfile, capturedAt time.Time) *domain.SLASnapshot {
	if profile == nil {
		return &domain.SLASnapshot{CapturedAt: capturedAt}
	}
	return &domain.SLASnapshot{
		SLAProfileID:       profile.ID,
		ResponseTimeMin:    profile.ResponseTimeMin,
		ArrivalTimeMin:     profile.ArrivalTimeMin,
		CompletionTimeMin:  profile.CompletionTimeMin,
		PenaltyEnabled:     profile.PenaltyEnabled,
		PenaltyPerMinCents: profile.PenaltyPerMinCents,
		PenaltyCapCents:    profile.PenaltyCapCents,
		CapturedAt:         capturedAt,
	}
}

const defaultResponseTimeMin = 30

// ResponseDeadline computes the offer response deadline from the job's
// snapshot, falling back to a default when the snapshot carries none.
func ResponseDeadline(snapshot *domain.SLASnapshot, offeredAt time.Time) time.Time {
	minutes := defaultResponseTimeMin
	if snapshot != nil && snapshot.ResponseTimeMin > 0 {
		minutes = snapshot.ResponseTimeMin
	}
	return offeredAt.Add(time.Duration(minutes) * time.Minute)
}

// ArrivalDeadline computes the arrival deadline from the acceptance time,
// or returns nil if the snapshot has no arrival commitment.
func ArrivalDeadline(snapshot *domain.SLASnapshot, acceptedAt time.Time) *time.Time {
	if snapshot == nil || snapshot.ArrivalTimeMin == nil {
		return nil
	}
	d := acceptedAt.Add(time.Duration(*snapshot.ArrivalTimeMin) * time.Minute)
	return &d
}

// CompletionDeadline computes the completion deadline from the en-route
// time, or returns nil if the snapshot has no completion commitment.
func CompletionDeadline(snapshot *domain.SLASnapshot, enRouteAt time.Time) *time.Time {
	if snapshot == nil || snapshot.CompletionTimeMin == nil {
		return nil
	}
	d := enRouteAt.Add(time.Duration(*snapshot.CompletionTimeMin) * time.Minute)
	return &d
}

// Met reports whether an event occurring at eventAt satisfies a deadline.
func Met(eventAt time.Time, deadline *time.Time) bool {
	if deadline == nil {
		return true
	}
	return !eventAt.After(*deadline)
}

// DeadlineKind identifies which of a job's SLA commitments a scan result
// concerns.
type DeadlineKind string

const (
	DeadlineResponse   DeadlineKind = "response"
	DeadlineArrival    DeadlineKind = "arrival"
	DeadlineCompletion DeadlineKind = "completion"
)

// PendingDeadline is a job's next unmet, unexpired deadline as seen by the
// scanner.
type PendingDeadline struct {
	JobID    domain.ID
	Kind     DeadlineKind
	Deadline time.Time
}

// Store is the persistence seam the warning scanner reads through.
type Store interface {
	PendingDeadlines(ctx context.Context) ([]PendingDeadline, error)
}

// WarningThresholds maps each deadline kind to the number of minutes
// before breach at which a warning fires. Spec default is 5 for all kinds.
type WarningThresholds map[DeadlineKind]int

// DefaultWarningThresholds returns the spec default of 5 minutes for every
// kind.
func DefaultWarningThresholds() WarningThresholds {
	return WarningThresholds{
		DeadlineResponse:   5,
		DeadlineArrival:    5,
		DeadlineCompletion: 5,
	}
}

// Scanner periodically scans pending deadlines and publishes SlaWarning
// events for those within their threshold.
type Scanner struct {
	store      Store
	bus        *eventbus.Bus
	thresholds WarningThresholds
	interval   time.Duration
	now        func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScanner builds a Scanner. interval is clamped to a 5-second minimum
// to bound database load.
func NewScanner(store Store, bus *eventbus.Bus, thresholds WarningThresholds, interval time.Duration) *Scanner {
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	return &Scanner{
		store:      store,
		bus:        bus,
		thresholds: thresholds,
		interval:   interval,
		now:        time.Now,
		done:       make(chan struct{}),
	}
}

// Start begins the background scan loop. Call Stop to shut it down
// gracefully.
func (s *Scanner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.loop(ctx)
}

// Stop cancels the scan loop and waits for it to exit.
func (s *Scanner) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Scanner) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) {
	pending, err := s.store.PendingDeadlines(ctx)
	if err != nil {
		return
	}
	now := s.now()
	for _, p := range pending {
		threshold, ok := s.thresholds[p.Kind]
		if !ok {
			threshold = 5
		}
		remaining := int(p.Deadline.Sub(now).Minutes())
		if remaining <= threshold {
			s.bus.Publish(eventbus.SlaWarning{
				JobID:            p.JobID,
				Kind:             string(p.Kind),
				MinutesRemaining: remaining,
				At:               now,
			})
		}
	}
}
