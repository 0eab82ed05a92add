package realtime

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
)

const fanoutChannel = "dispatch:realtime:fanout"

type fanoutEnvelope struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

func newInstanceID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// AttachBroker wires the Hub to a Redis-backed broker so room broadcasts
// reach every gateway instance, not just the one holding the WebSocket
// connection. It starts a background relay goroutine that stops when ctx
// is cancelled.
func (h *Hub) AttachBroker(ctx context.Context, broker Broker) {
	h.broker = broker
	h.instance = newInstanceID()
	go h.relayLoop(ctx)
}

func (h *Hub) relayLoop(ctx context.Context) {
	sub := h.broker.Subscribe(ctx, fanoutChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env fanoutEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			if env.Origin == h.instance {
				continue // already delivered locally when published
			}
			h.deliverLocalRoom(env.Room, env.Event, env.Data)
		}
	}
}

func (h *Hub) publishRemote(room, event string, data any) {
	if h.broker == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	env := fanoutEnvelope{Origin: h.instance, Room: room, Event: event, Data: raw}
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := h.broker.Publish(context.Background(), fanoutChannel, payload); err != nil {
		h.logger.Warn().Err(err).Str("room", room).Msg("fanout publish failed")
	}
}

func (h *Hub) deliverLocalRoom(room, event string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		h.deliver(c, event, data)
	}
}
