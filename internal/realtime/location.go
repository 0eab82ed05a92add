package realtime

import (
	"context"
	"time"

	"github.com/fielddispatch/gateway/internal/authn"
	"github.com/fielddispatch/gateway/internal/cache"
	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/geo"
)

const (
	locationThrottleInterval = 3 * time.Second
	trackingHistoryMaxLen    = 5000
	avgTravelSpeedKmh        = 30.0
)

// TrackingSessions resolves which job a provider's location update belongs
// to — the inverse of the assignment table, kept in-process since a
// provider can only be actively tracked for one job at a time.
type TrackingSessions struct {
	mu            chan struct{} // binary semaphore, avoids importing sync for one lock
	byProvider    map[string]domain.ID
	destinationOf map[string]geo.Point
}

// NewTrackingSessions builds an empty session index.
func NewTrackingSessions() *TrackingSessions {
	ts := &TrackingSessions{
		mu:            make(chan struct{}, 1),
		byProvider:    make(map[string]domain.ID),
		destinationOf: make(map[string]geo.Point),
	}
	ts.mu <- struct{}{}
	return ts
}

func (t *TrackingSessions) lock()   { <-t.mu }
func (t *TrackingSessions) unlock() { t.mu <- struct{}{} }

// Start associates a provider with a job for the duration of the tracking
// session, called once the provider marks themselves en route.
func (t *TrackingSessions) Start(providerID domain.ID, jobID domain.ID, destination geo.Point) {
	t.lock()
	defer t.unlock()
	t.byProvider[providerID.String()] = jobID
	t.destinationOf[jobID.String()] = destination
}

// Stop clears a provider's tracking session. The provider handler calls it
// when a job is marked completed.
func (t *TrackingSessions) Stop(providerID domain.ID, jobID domain.ID) {
	t.lock()
	defer t.unlock()
	delete(t.byProvider, providerID.String())
	delete(t.destinationOf, jobID.String())
}

func (t *TrackingSessions) jobFor(providerID string) (domain.ID, bool) {
	t.lock()
	defer t.unlock()
	id, ok := t.byProvider[providerID]
	return id, ok
}

func (t *TrackingSessions) destinationFor(jobID string) (geo.Point, bool) {
	t.lock()
	defer t.unlock()
	p, ok := t.destinationOf[jobID]
	return p, ok
}

func estimateETAMinutes(from, to geo.Point) int {
	distanceKm := geo.HaversineKm(from, to)
	if avgTravelSpeedKmh <= 0 {
		return 1
	}
	minutes := int(distanceKm / avgTravelSpeedKmh * 60)
	if minutes < 1 {
		return 1
	}
	return minutes
}

type locationUpdatePayload struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Heading  *float64 `json:"heading"`
	Speed    *float64 `json:"speed"`
	Accuracy *float64 `json:"accuracy"`
}

type locationAck struct {
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
	RetryAfterSec int    `json:"retry_after_seconds,omitempty"`
	ETAMinutes    *int   `json:"eta_minutes,omitempty"`
}

func (h *Hub) handleLocationUpdate(c *client, payload locationUpdatePayload) {
	ack := h.processLocationUpdate(c, payload)
	select {
	case c.send <- OutboundMessage{Event: "location:ack", Data: ack}:
	default:
	}
}

func (h *Hub) processLocationUpdate(c *client, payload locationUpdatePayload) locationAck {
	if c.principal.Role != authn.RoleProvider {
		return locationAck{OK: false, Error: "only providers can send location updates"}
	}
	if payload.Lat < -90 || payload.Lat > 90 || payload.Lng < -180 || payload.Lng > 180 {
		return locationAck{OK: false, Error: "invalid coordinates"}
	}

	providerID := c.principal.UserID.String()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := h.locations.TryConsumeLocationToken(ctx, providerID, locationThrottleInterval)
	if err != nil {
		h.logger.Warn().Err(err).Msg("location throttle check failed")
		return locationAck{OK: false, Error: "temporarily unavailable"}
	}
	if !ok {
		return locationAck{OK: false, Error: "rate limited", RetryAfterSec: int(locationThrottleInterval.Seconds())}
	}

	jobID, tracking := h.sessions.jobFor(providerID)
	if !tracking {
		return locationAck{OK: false, Error: "no active tracking session"}
	}

	if err := h.locations.UpdateProviderGeo(ctx, providerID, payload.Lat, payload.Lng); err != nil {
		h.logger.Warn().Err(err).Msg("failed to update provider geo position")
	}

	snap := cache.LocationSnapshot{
		ProviderID: providerID,
		Lat:        payload.Lat,
		Lng:        payload.Lng,
		Heading:    payload.Heading,
		Speed:      payload.Speed,
		Accuracy:   payload.Accuracy,
		ReceivedAt: time.Now().UTC(),
	}
	if err := h.locations.AppendTrackingSnapshot(ctx, jobID.String(), snap, trackingHistoryMaxLen); err != nil {
		h.logger.Warn().Err(err).Msg("failed to append tracking snapshot")
	}

	var eta *int
	if dest, ok := h.sessions.destinationFor(jobID.String()); ok {
		m := estimateETAMinutes(geo.Point{Lat: payload.Lat, Lng: payload.Lng}, dest)
		eta = &m
	}

	h.BroadcastToJob(jobID, "location:provider_moved", map[string]any{
		"lat":         payload.Lat,
		"lng":         payload.Lng,
		"heading":     payload.Heading,
		"speed":       payload.Speed,
		"eta_minutes": eta,
		"timestamp":   snap.ReceivedAt,
	})

	return locationAck{OK: true, ETAMinutes: eta}
}
