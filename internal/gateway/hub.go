package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/fleetpulse/fleetpulse/internal/domain"
	"github.com/fleetpulse/fleetpulse/internal/metrics"
)

const (
	sendBufferSize = 16
	cmdBufferSize  = 256

	// graceWindow bounds how long a dropped connection id can be resumed.
	graceWindow = 2 * time.Minute
)

// TokenVerifier checks a token's signature and expiry and returns the
// authenticated user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// RoomPublisher replicates a room broadcast to every running instance
// through the shared pub/sub store.
type RoomPublisher interface {
	Publish(ctx context.Context, room string, payload []byte) error
}

// --- Command types ---

type hubCmd interface{ hubCmd() }

type cmdRegister struct {
	conn     *websocket.Conn
	resumeID uuid.UUID // uuid.Nil for a fresh connection
	replyCh  chan registerReply
}

type registerReply struct {
	id      uuid.UUID
	resumed bool
}

type cmdUnregister struct {
	id     uuid.UUID
	reason string
}

type cmdAuthResult struct {
	id     uuid.UUID
	userID string
	err    error
}

type cmdTrack struct {
	id   uuid.UUID
	room string
}

type cmdUntrack struct {
	id   uuid.UUID
	room string
}

type cmdSend struct {
	id      uuid.UUID
	event   string
	payload any
}

type cmdDeliver struct {
	room string
	data []byte
}

type cmdClientCount struct {
	replyCh chan int
}

type cmdRoomMembers struct {
	room    string
	replyCh chan int
}

type cmdStop struct{}

func (cmdRegister) hubCmd()    {}
func (cmdUnregister) hubCmd()  {}
func (cmdAuthResult) hubCmd()  {}
func (cmdTrack) hubCmd()       {}
func (cmdUntrack) hubCmd()     {}
func (cmdSend) hubCmd()        {}
func (cmdDeliver) hubCmd()     {}
func (cmdClientCount) hubCmd() {}
func (cmdRoomMembers) hubCmd() {}
func (cmdStop) hubCmd()        {}

// --- Connection state ---

type connection struct {
	id          uuid.UUID
	state       AuthState
	userID      string
	connectedAt time.Time
	writer      *clientWriter
}

// suspendedSession preserves a dropped connection's state for the
// reconnection grace window.
type suspendedSession struct {
	state     AuthState
	userID    string
	rooms     []string
	expiresAt time.Time
}

// --- Hub ---

// Hub is the connection gateway actor. All state mutation happens on the
// run goroutine; public methods post commands and never touch the maps.
type Hub struct {
	cmdCh     chan hubCmd
	conns     map[uuid.UUID]*connection
	registry  *Registry
	suspended map[uuid.UUID]suspendedSession
	verifier  TokenVerifier
	clock     clockwork.Clock

	pingInterval time.Duration

	mu        sync.RWMutex
	publisher RoomPublisher
}

func NewHub(verifier TokenVerifier, clock clockwork.Clock, pingInterval time.Duration) *Hub {
	h := &Hub{
		cmdCh:        make(chan hubCmd, cmdBufferSize),
		conns:        make(map[uuid.UUID]*connection),
		registry:     NewRegistry(),
		suspended:    make(map[uuid.UUID]suspendedSession),
		verifier:     verifier,
		clock:        clock,
		pingInterval: pingInterval,
	}
	go h.run()
	return h
}

// AttachCoordinator makes BroadcastToRoom instance-transparent. Without a
// coordinator broadcasts stay local to this instance.
func (h *Hub) AttachCoordinator(p RoomPublisher) {
	h.mu.Lock()
	h.publisher = p
	h.mu.Unlock()
}

func (h *Hub) roomPublisher() RoomPublisher {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.publisher
}

// --- Public API ---

// Register adds a transport connection and returns its id. A resumeID
// matching a session inside the grace window restores its auth state and
// room memberships.
func (h *Hub) Register(conn *websocket.Conn, resumeID uuid.UUID) (uuid.UUID, bool) {
	replyCh := make(chan registerReply, 1)
	h.cmdCh <- cmdRegister{conn: conn, resumeID: resumeID, replyCh: replyCh}
	reply := <-replyCh
	return reply.id, reply.resumed
}

// Unregister removes a connection after its transport closed. Its session
// stays resumable for the grace window.
func (h *Hub) Unregister(id uuid.UUID, reason string) {
	h.cmdCh <- cmdUnregister{id: id, reason: reason}
}

// Authenticate verifies token and applies the result to the connection's
// state machine. Verification runs on the caller's goroutine (the
// connection's read pump), so per-connection ordering is preserved.
func (h *Hub) Authenticate(id uuid.UUID, token string) {
	userID, err := h.verifier.Verify(token)
	h.cmdCh <- cmdAuthResult{id: id, userID: userID, err: err}
}

// Track joins the connection to the entity's room. Requires an
// authenticated connection; otherwise the client receives an error event
// and no join happens. Entitlement to view the entity is not checked here.
func (h *Hub) Track(id uuid.UUID, entityType domain.EntityType, entityID string) {
	h.cmdCh <- cmdTrack{id: id, room: domain.RoomName(entityType, entityID)}
}

// Untrack leaves the room unconditionally, even from an unauthenticated
// connection. Idempotent if the room was never joined.
func (h *Hub) Untrack(id uuid.UUID, entityType domain.EntityType, entityID string) {
	h.cmdCh <- cmdUntrack{id: id, room: domain.RoomName(entityType, entityID)}
}

// BroadcastToRoom delivers an event to local members of the room and, when
// a coordinator is attached, publishes it for every other instance. A
// publish failure degrades to local-only delivery; it is logged, never
// retried, and not surfaced to the caller.
func (h *Hub) BroadcastToRoom(ctx context.Context, room, event string, payload any) error {
	frame, err := domain.NewFrame(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	h.cmdCh <- cmdDeliver{room: room, data: data}

	pub := h.roomPublisher()
	if pub == nil {
		metrics.BroadcastsTotal.WithLabelValues("local").Inc()
		return nil
	}
	if err := pub.Publish(ctx, room, data); err != nil {
		slog.Warn("Cross-instance publish failed, delivered locally only",
			"room", room, "error", err)
		metrics.CoordinationErrors.WithLabelValues("publish").Inc()
		metrics.BroadcastsTotal.WithLabelValues("local").Inc()
		return nil
	}
	metrics.BroadcastsTotal.WithLabelValues("coordinated").Inc()
	return nil
}

// SendEvent emits a protocol event to a single connection.
func (h *Hub) SendEvent(id uuid.UUID, event string, payload any) {
	h.cmdCh <- cmdSend{id: id, event: event, payload: payload}
}

// DeliverLocal hands a replicated frame to the local room registry. Called
// by the coordinator for every message on the subscribe connection,
// including this instance's own publishes.
func (h *Hub) DeliverLocal(room string, data []byte) {
	h.cmdCh <- cmdDeliver{room: room, data: data}
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	h.cmdCh <- cmdClientCount{replyCh: replyCh}
	return <-replyCh
}

// RoomMembers returns the number of local members in a room.
func (h *Hub) RoomMembers(room string) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- cmdRoomMembers{room: room, replyCh: replyCh}
	return <-replyCh
}

// Stop shuts down the hub, closing all client connections.
func (h *Hub) Stop() {
	h.cmdCh <- cmdStop{}
}

// --- Actor loop ---

func (h *Hub) run() {
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdRegister:
			h.handleRegister(c)
		case cmdUnregister:
			h.handleUnregister(c)
		case cmdAuthResult:
			h.handleAuthResult(c)
		case cmdTrack:
			h.handleTrack(c)
		case cmdUntrack:
			h.handleUntrack(c)
		case cmdSend:
			if conn, exists := h.conns[c.id]; exists {
				h.sendEvent(conn, c.event, c.payload)
			}
		case cmdDeliver:
			h.handleDeliver(c)
		case cmdClientCount:
			c.replyCh <- len(h.conns)
		case cmdRoomMembers:
			c.replyCh <- len(h.registry.Members(c.room))
		case cmdStop:
			h.handleStop()
			return
		}
	}
}

func (h *Hub) handleRegister(c cmdRegister) {
	h.purgeSuspended()

	id := c.resumeID
	session, resumable := h.suspended[id]
	_, live := h.conns[id]
	resumed := id != uuid.Nil && resumable && !live

	if !resumed {
		id = uuid.New()
	}

	conn := &connection{
		id:          id,
		connectedAt: h.clock.Now(),
		writer:      newClientWriter(c.conn, h.clock, h.pingInterval),
	}
	conn.state, _ = Transition(StateConnecting, EventOpened{})

	if resumed {
		delete(h.suspended, id)
		conn.state = session.state
		conn.userID = session.userID
		for _, room := range session.rooms {
			h.registry.Join(room, id)
		}
		slog.Info("Connection resumed", "connection_id", id, "state", conn.state.String())
	} else {
		slog.Info("Connection registered", "connection_id", id)
	}

	h.conns[id] = conn
	h.updateGauges()
	h.sendEvent(conn, domain.EventConnected, domain.ConnectedInfo{
		ConnectionID: id.String(),
		Resumed:      resumed,
	})
	c.replyCh <- registerReply{id: id, resumed: resumed}
}

func (h *Hub) handleUnregister(c cmdUnregister) {
	conn, exists := h.conns[c.id]
	if !exists {
		return
	}
	slog.Info("Connection closed", "connection_id", c.id, "reason", c.reason)
	h.dropConn(conn, true, false)
}

func (h *Hub) handleAuthResult(c cmdAuthResult) {
	conn, exists := h.conns[c.id]
	if !exists {
		return
	}

	var event AuthEvent
	if c.err != nil {
		metrics.GatewayAuthFailures.Inc()
		event = EventAuthFailed{Message: authFailureMessage(c.err)}
	} else {
		conn.userID = c.userID
		event = EventAuthSucceeded{UserID: c.userID}
	}

	h.applyTransition(conn, event)
}

func (h *Hub) handleTrack(c cmdTrack) {
	conn, exists := h.conns[c.id]
	if !exists {
		return
	}
	if conn.state != StateAuthenticated {
		h.sendEvent(conn, domain.EventError, domain.ErrNotAuthenticated.Error())
		return
	}
	h.registry.Join(c.room, c.id)
	h.updateGauges()
	slog.Debug("Connection joined room", "connection_id", c.id, "room", c.room)
}

func (h *Hub) handleUntrack(c cmdUntrack) {
	h.registry.Leave(c.room, c.id)
	h.updateGauges()
}

func (h *Hub) handleDeliver(c cmdDeliver) {
	var slow []*connection
	for _, id := range h.registry.Members(c.room) {
		conn, exists := h.conns[id]
		if !exists {
			continue
		}
		if !conn.writer.trySend(c.data) {
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow client", "connection_id", conn.id, "room", c.room)
		metrics.GatewaySlowClientsDropped.Inc()
		h.dropConn(conn, true, false)
	}
}

func (h *Hub) handleStop() {
	for id, conn := range h.conns {
		conn.writer.stop()
		delete(h.conns, id)
		h.registry.LeaveAll(id)
	}
	h.updateGauges()
}

// --- State machine plumbing ---

func (h *Hub) applyTransition(conn *connection, event AuthEvent) {
	next, effects := Transition(conn.state, event)
	conn.state = next

	for _, effect := range effects {
		switch e := effect.(type) {
		case EffectSend:
			h.sendEvent(conn, e.Event, e.Payload)
		case EffectJoinRoom:
			h.registry.Join(e.Room, conn.id)
			h.updateGauges()
		case EffectClose:
			slog.Info("Connection terminated", "connection_id", conn.id, "reason", e.Reason)
			h.dropConn(conn, false, true)
		}
	}
}

func (h *Hub) sendEvent(conn *connection, event string, payload any) {
	frame, err := domain.NewFrame(event, payload)
	if err != nil {
		slog.Error("Failed to marshal event", "event", event, "error", err)
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("Failed to marshal frame", "event", event, "error", err)
		return
	}
	if !conn.writer.trySend(data) {
		slog.Warn("Disconnecting slow client", "connection_id", conn.id)
		metrics.GatewaySlowClientsDropped.Inc()
		h.dropConn(conn, true, false)
	}
}

// dropConn removes a connection from the hub. A resumable drop snapshots
// the session for the grace window; drain lets queued frames flush before
// the transport closes.
func (h *Hub) dropConn(conn *connection, resumable, drain bool) {
	if _, exists := h.conns[conn.id]; !exists {
		return
	}

	if resumable && conn.state != StateTerminated {
		h.suspended[conn.id] = suspendedSession{
			state:     conn.state,
			userID:    conn.userID,
			rooms:     h.registry.Rooms(conn.id),
			expiresAt: h.clock.Now().Add(graceWindow),
		}
	}

	h.registry.LeaveAll(conn.id)
	delete(h.conns, conn.id)

	if drain {
		conn.writer.drainAndStop()
	} else {
		conn.writer.stop()
	}
	h.updateGauges()
}

func (h *Hub) purgeSuspended() {
	now := h.clock.Now()
	for id, session := range h.suspended {
		if now.After(session.expiresAt) {
			delete(h.suspended, id)
		}
	}
}

func (h *Hub) updateGauges() {
	metrics.GatewayConnectedClients.Set(float64(len(h.conns)))
	metrics.GatewayActiveRooms.Set(float64(h.registry.RoomCount()))
}

func authFailureMessage(err error) string {
	var authErr *domain.AuthenticationError
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	return "authentication failed"
}
