package realtime

import (
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fielddispatch/gateway/internal/authn"
	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/geo"
)

func testHub() *Hub {
	log := zerolog.New(io.Discard)
	return NewHub(log, nil, nil, nil)
}

func testClient(h *Hub, role authn.Role) *client {
	return &client{
		hub:       h,
		send:      make(chan OutboundMessage, sendBuffer),
		principal: &authn.Principal{UserID: domain.NewID(), Role: role},
		namespace: NamespaceJobs,
		rooms:     make(map[string]struct{}),
	}
}

func TestBroadcastToJobReachesRoomMembersOnly(t *testing.T) {
	h := testHub()
	jobID := domain.NewID()
	member := testClient(h, authn.RoleCustomer)
	stranger := testClient(h, authn.RoleCustomer)

	h.register(member)
	h.register(stranger)
	member.joinRoom(jobRoom(jobID))

	h.BroadcastToJob(jobID, "job:status_changed", map[string]string{"status": "in_progress"})

	select {
	case msg := <-member.send:
		if msg.Event != "job:status_changed" {
			t.Fatalf("expected job:status_changed, got %s", msg.Event)
		}
	default:
		t.Fatal("expected room member to receive broadcast")
	}

	select {
	case <-stranger.send:
		t.Fatal("non-member should not receive the broadcast")
	default:
	}
}

func TestSendToUserTargetsPersonalRoom(t *testing.T) {
	h := testHub()
	p := &authn.Principal{UserID: domain.NewID(), Role: authn.RoleProvider}
	c := testClient(h, authn.RoleProvider)
	c.principal = p

	h.register(c)
	c.joinRoom(personalRoom(p))

	h.SendToUser(p.UserID, authn.RoleProvider, "provider:penalty_applied", map[string]any{"kind": "no_show"})

	select {
	case msg := <-c.send:
		if msg.Event != "provider:penalty_applied" {
			t.Fatalf("unexpected event: %s", msg.Event)
		}
	default:
		t.Fatal("expected personal room delivery")
	}
}

func TestBroadcastEmergencyOnlyReachesAdmins(t *testing.T) {
	h := testHub()
	admin := testClient(h, authn.RoleAdmin)
	provider := testClient(h, authn.RoleProvider)

	h.register(admin)
	h.register(provider)
	admin.joinRoom(adminBroadcastRoom)

	h.BroadcastEmergency("job:sla_breach", map[string]string{"job_id": "x"})

	select {
	case <-admin.send:
	default:
		t.Fatal("expected admin to receive emergency broadcast")
	}

	select {
	case <-provider.send:
		t.Fatal("provider should not receive admin emergency broadcast")
	default:
	}
}

func TestUnregisterRemovesClientFromAllRooms(t *testing.T) {
	h := testHub()
	jobID := domain.NewID()
	c := testClient(h, authn.RoleCustomer)
	h.register(c)
	c.joinRoom(jobRoom(jobID))

	h.unregister(c)

	h.mu.RLock()
	_, stillPresent := h.rooms[jobRoom(jobID)]
	h.mu.RUnlock()
	if stillPresent {
		t.Fatal("room should be garbage collected once its last member leaves")
	}
}

func TestTrackingSessionsStartStopAndLookup(t *testing.T) {
	ts := NewTrackingSessions()
	providerID := domain.NewID()
	jobID := domain.NewID()
	dest := geo.Point{Lat: 40.0, Lng: -73.0}

	if _, ok := ts.jobFor(providerID.String()); ok {
		t.Fatal("expected no tracking session before Start")
	}

	ts.Start(providerID, jobID, dest)

	got, ok := ts.jobFor(providerID.String())
	if !ok || got != jobID {
		t.Fatalf("expected job %s, got %s (ok=%v)", jobID, got, ok)
	}

	gotDest, ok := ts.destinationFor(jobID.String())
	if !ok || gotDest != dest {
		t.Fatalf("expected destination %+v, got %+v", dest, gotDest)
	}

	ts.Stop(providerID, jobID)

	if _, ok := ts.jobFor(providerID.String()); ok {
		t.Fatal("expected tracking session to be cleared after Stop")
	}
}

func TestEstimateETAMinutesFloorsAtOneMinute(t *testing.T) {
	same := geo.Point{Lat: 1, Lng: 1}
	if got := estimateETAMinutes(same, same); got != 1 {
		t.Fatalf("expected floor of 1 minute for zero distance, got %d", got)
	}

	far := geo.Point{Lat: 0, Lng: 0}
	farAway := geo.Point{Lat: 10, Lng: 10}
	if got := estimateETAMinutes(far, farAway); got <= 1 {
		t.Fatalf("expected a non-trivial ETA for a long distance, got %d", got)
	}
}

func TestProcessLocationUpdateRejectsNonProvider(t *testing.T) {
	h := testHub()
	c := testClient(h, authn.RoleCustomer)

	ack := h.processLocationUpdate(c, locationUpdatePayload{Lat: 10, Lng: 10})
	if ack.OK {
		t.Fatal("expected customers to be rejected from sending location updates")
	}
}

func TestProcessLocationUpdateRejectsInvalidCoordinates(t *testing.T) {
	h := testHub()
	c := testClient(h, authn.RoleProvider)

	ack := h.processLocationUpdate(c, locationUpdatePayload{Lat: 200, Lng: 10})
	if ack.OK {
		t.Fatal("expected out-of-range latitude to be rejected")
	}
}
