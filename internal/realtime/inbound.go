package realtime

import (
	"encoding/json"
	"time"

	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/security"
)

// dispatchInbound routes one decoded client frame to its namespace-scoped
// handler. Unknown events are logged and dropped rather than closing the
// connection, since a stale client sending a removed event should not
// take down an otherwise-healthy session.
func (h *Hub) dispatchInbound(c *client, in InboundMessage) {
	switch in.Event {
	case "join_job":
		h.handleJoinJob(c, in.Data)
	case "leave_job":
		h.handleLeaveJob(c, in.Data)
	case "location:update":
		var payload locationUpdatePayload
		if err := json.Unmarshal(in.Data, &payload); err != nil {
			return
		}
		h.handleLocationUpdate(c, payload)
	case "chat:message":
		var payload chatMessagePayload
		if err := json.Unmarshal(in.Data, &payload); err != nil {
			return
		}
		h.handleChatMessage(c, payload)
	default:
		h.logger.Debug().Str("event", in.Event).Msg("unhandled inbound realtime event")
	}
}

type jobRoomPayload struct {
	JobID string `json:"job_id"`
}

// handleJoinJob subscribes the connection to a job's room. The caller is
// trusted to be a participant — the HTTP layer that issued the job_id to
// the client (via the job or offer response) already enforced that the
// principal is the customer or the assigned provider.
func (h *Hub) handleJoinJob(c *client, raw json.RawMessage) {
	var payload jobRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	jobID, err := domain.ParseID(payload.JobID)
	if err != nil {
		return
	}
	c.joinRoom(jobRoom(jobID))
}

func (h *Hub) handleLeaveJob(c *client, raw json.RawMessage) {
	var payload jobRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	jobID, err := domain.ParseID(payload.JobID)
	if err != nil {
		return
	}
	c.leaveRoom(jobRoom(jobID))
}

type chatMessagePayload struct {
	JobID string `json:"job_id"`
	Body  string `json:"body"`
}

type chatMessageOut struct {
	JobID    string    `json:"job_id"`
	SenderID string    `json:"sender_id"`
	Role     string    `json:"role"`
	Body     string    `json:"body"`
	SentAt   time.Time `json:"sent_at"`
}

// handleChatMessage relays an in-job chat message to the other
// participant's connections. The body is passed through
// security.SanitizeFreeText before fan-out; chat messages are not
// persisted.
func (h *Hub) handleChatMessage(c *client, payload chatMessagePayload) {
	jobID, err := domain.ParseID(payload.JobID)
	if err != nil {
		return
	}
	if !c.inRoom(jobRoom(jobID)) {
		return
	}
	out := chatMessageOut{
		JobID:    payload.JobID,
		SenderID: c.principal.UserID.String(),
		Role:     string(c.principal.Role),
		Body:     security.SanitizeFreeText(payload.Body),
		SentAt:   time.Now().UTC(),
	}
	h.BroadcastToJob(jobID, "chat:message", out)
}
