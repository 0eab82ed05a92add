// Package realtime is the duplex session layer: authenticated WebSocket
// connections grouped into job rooms and personal per-user rooms, fed by
// the domain event bus and by inbound location/chat messages from
// connected clients. It mirrors the gateway's HTTP auth model (one JWT,
// one principal) rather than reinventing a parallel session concept.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fielddispatch/gateway/internal/authn"
	"github.com/fielddispatch/gateway/internal/cache"
	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/observability"
)

// Namespace scopes the kind of traffic a connection receives, mirroring
// the three logical channels the mobile and web clients open: job
// lifecycle events, location streaming, and in-job chat.
type Namespace string

const (
	NamespaceJobs     Namespace = "jobs"
	NamespaceLocation Namespace = "location"
	NamespaceChat     Namespace = "chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
	sendBuffer     = 32
)

// InboundMessage is the envelope every client-to-server frame arrives as.
type InboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutboundMessage is the envelope every server-to-client frame is sent as.
type OutboundMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// client is one authenticated WebSocket connection.
type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan OutboundMessage
	principal *authn.Principal
	namespace Namespace
	rooms     map[string]struct{}
	mu        sync.Mutex
}

func (c *client) joinRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
	c.hub.addToRoom(room, c)
}

func (c *client) inRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *client) leaveRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
	c.hub.removeFromRoom(room, c)
}

func personalRoom(p *authn.Principal) string {
	return string(p.Role) + "_" + p.UserID.String()
}

func jobRoom(jobID domain.ID) string {
	return "job_" + jobID.String()
}

// Hub owns the connection registry, room memberships, and cross-instance
// fan-out via the shared pub/sub bus. A gateway process holds exactly one
// Hub for its lifetime.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*client]struct{}
	clients  map[*client]struct{}
	broker   Broker
	instance string
	logger   zerolog.Logger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	locations *cache.Client
	sessions  *TrackingSessions
}

// Broker is the cross-instance fan-out dependency: Redis pub/sub in
// production, satisfied directly by *cache.Client.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) *redis.PubSub
}

// NewHub builds an empty Hub. originCheck decides whether a WebSocket
// upgrade request's Origin header is acceptable. locations provides the
// Redis-backed geo/throttle/tracking operations the location namespace
// needs.
func NewHub(logger zerolog.Logger, metrics *observability.Metrics, locations *cache.Client, originCheck func(r *http.Request) bool) *Hub {
	return &Hub{
		rooms:     make(map[string]map[*client]struct{}),
		clients:   make(map[*client]struct{}),
		logger:    logger.With().Str("component", "realtime").Logger(),
		metrics:   metrics,
		locations: locations,
		sessions:  NewTrackingSessions(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originCheck,
		},
	}
}

// Sessions exposes the tracking-session index so HTTP handlers can start
// and stop tracking as a job transitions through en_route/arrived/done.
func (h *Hub) Sessions() *TrackingSessions { return h.sessions }

// ServeWS upgrades an authenticated HTTP request to a WebSocket connection
// scoped to the given namespace. The caller is expected to have already
// run the JWT auth middleware; the principal is read from the request
// context.
func (h *Hub) ServeWS(ns Namespace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := authn.FromContext(r.Context())
		if !ok {
			http.Error(w, `{"error":"missing authentication"}`, http.StatusUnauthorized)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		c := &client{
			hub:       h,
			conn:      conn,
			send:      make(chan OutboundMessage, sendBuffer),
			principal: principal,
			namespace: ns,
			rooms:     make(map[string]struct{}),
		}
		h.register(c)
		c.joinRoom(personalRoom(principal))
		if principal.Role == authn.RoleAdmin {
			c.joinRoom(adminBroadcastRoom)
		}

		go c.writePump()
		go c.readPump()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.RealtimeConnectionsActive.Inc()
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()
	for _, r := range rooms {
		h.removeFromRoom(r, c)
	}

	if h.metrics != nil {
		h.metrics.RealtimeConnectionsActive.Dec()
	}
}

func (h *Hub) addToRoom(room string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*client]struct{})
	}
	h.rooms[room][c] = struct{}{}
}

func (h *Hub) removeFromRoom(room string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// BroadcastToJob sends an event to every connection subscribed to a job's
// room — the assigned provider and the customer, whichever namespace they
// opened.
func (h *Hub) BroadcastToJob(jobID domain.ID, event string, data any) {
	h.broadcastRoom(jobRoom(jobID), event, data)
}

// SendToUser sends an event to every connection a specific user has open,
// across all of their devices.
func (h *Hub) SendToUser(userID domain.ID, role authn.Role, event string, data any) {
	h.broadcastRoom(string(role)+"_"+userID.String(), event, data)
}

// BroadcastEmergency sends a priority event to every admin connection on
// every gateway instance.
func (h *Hub) BroadcastEmergency(event string, data any) {
	h.broadcastRoom(adminBroadcastRoom, event, data)
}

const adminBroadcastRoom = "__admins__"

func (h *Hub) broadcastRoom(room, event string, data any) {
	h.deliverLocalRoom(room, event, data)
	h.publishRemote(room, event, data)
}

func (h *Hub) deliver(c *client, event string, data any) {
	msg := OutboundMessage{Event: event, Data: data}
	select {
	case c.send <- msg:
		if h.metrics != nil {
			h.metrics.RealtimeMessagesTotal.WithLabelValues(string(c.namespace), "out").Inc()
		}
	default:
		h.logger.Warn().Str("event", event).Msg("client send buffer full, dropping message")
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var in InboundMessage
		if err := c.conn.ReadJSON(&in); err != nil {
			return
		}
		if c.hub.metrics != nil {
			c.hub.metrics.RealtimeMessagesTotal.WithLabelValues(string(c.namespace), "in").Inc()
		}
		c.hub.dispatchInbound(c, in)
	}
}
