package realtime

import (
	"context"

	"github.com/fielddispatch/gateway/internal/authn"
	"github.com/fielddispatch/gateway/internal/eventbus"
)

// SubscribeEvents translates domain events published on bus into realtime
// broadcasts, so the HTTP handlers that drive lifecycle, assignment, and
// scoring transitions never need to know the realtime layer exists — they
// just publish to the bus like anything else. Returns once ctx is
// cancelled.
func SubscribeEvents(ctx context.Context, hub *Hub, bus *eventbus.Bus) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch:
			if !ok {
				return
			}
			dispatchEvent(hub, ev)
		}
	}
}

func dispatchEvent(hub *Hub, ev eventbus.Event) {
	switch e := ev.(type) {
	case eventbus.JobStatusChanged:
		hub.BroadcastToJob(e.JobID, "job:status_changed", map[string]any{
			"job_id":     e.JobID.String(),
			"old_status": e.Old,
			"new_status": e.New,
			"at":         e.At,
		})

	case eventbus.ProviderAssigned:
		hub.BroadcastToJob(e.JobID, "job:accepted", map[string]any{
			"job_id":      e.JobID.String(),
			"provider_id": e.ProviderID.String(),
			"accepted_at": e.At,
		})

	case eventbus.ProviderReassigned:
		hub.BroadcastToJob(e.JobID, "job:reassigned", map[string]any{
			"job_id":          e.JobID.String(),
			"new_provider_id": e.NewProviderID.String(),
			"reason":          e.Reason,
			"at":              e.At,
		})

	case eventbus.JobCompleted:
		hub.BroadcastToJob(e.JobID, "job:completed", map[string]any{
			"job_id":       e.JobID.String(),
			"completed_at": e.At,
		})

	case eventbus.JobCancelled:
		hub.BroadcastToJob(e.JobID, "job:cancelled", map[string]any{
			"job_id":       e.JobID.String(),
			"cancelled_by": e.By,
			"at":           e.At,
		})

	case eventbus.SlaWarning:
		hub.BroadcastToJob(e.JobID, "job:sla_warning", map[string]any{
			"job_id":            e.JobID.String(),
			"sla_type":          e.Kind,
			"minutes_remaining": e.MinutesRemaining,
			"warning_at":        e.At,
		})
		if e.MinutesRemaining <= 0 {
			hub.BroadcastEmergency("job:sla_breach", map[string]any{
				"job_id":   e.JobID.String(),
				"sla_type": e.Kind,
				"at":       e.At,
			})
		}

	case eventbus.PenaltyApplied:
		hub.SendToUser(e.ProviderID, authn.RoleProvider, "provider:penalty_applied", map[string]any{
			"kind":         e.Kind,
			"delta_points": e.DeltaPoints,
			"new_score":    e.NewScore,
			"at":           e.At,
		})

	case eventbus.ScoreRecovered:
		hub.SendToUser(e.ProviderID, authn.RoleProvider, "provider:score_recovered", map[string]any{
			"delta_points": e.DeltaPoints,
			"new_score":    e.NewScore,
			"at":           e.At,
		})
	}
}
