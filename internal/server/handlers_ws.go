package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/fleetpulse/fleetpulse/internal/domain"
	"github.com/fleetpulse/fleetpulse/internal/logging"
)

const maxMessageSize = 8192

func (s *Server) upgrader() websocket.Upgrader {
	origin := s.config.CORSOrigin
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if origin == "*" {
				return true
			}
			got := r.Header.Get("Origin")
			// Non-browser clients send no Origin header
			return got == "" || got == origin
		},
	}
}

func (s *Server) handleWebSocket(c echo.Context) error {
	resumeID := uuid.Nil
	if raw := c.QueryParam("connectionId"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return c.String(400, "Invalid connection id")
		}
		resumeID = parsed
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return nil
	}

	id, resumed := s.hub.Register(conn, resumeID)
	logging.WithConnection(id.String()).Info("client connected", "resumed", resumed)

	s.readPump(conn, id)
	return nil
}

// readPump owns the read side of the socket until it closes. Liveness is
// enforced here: a pong (or any frame) must arrive within
// HeartbeatInterval+HeartbeatTimeout of the last one or the deadline fires.
func (s *Server) readPump(conn *websocket.Conn, id uuid.UUID) {
	defer s.hub.Unregister(id, "transport closed")

	deadline := s.config.HeartbeatInterval + s.config.HeartbeatTimeout
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(deadline))
		s.dispatchFrame(id, msg)
	}
}

func (s *Server) dispatchFrame(id uuid.UUID, msg []byte) {
	var frame domain.Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		s.hub.SendEvent(id, domain.EventError, "Invalid message format")
		return
	}

	switch frame.Event {
	case domain.EventAuthenticate:
		var token string
		if err := json.Unmarshal(frame.Data, &token); err != nil {
			s.hub.SendEvent(id, domain.EventError, "Invalid message format")
			return
		}
		s.hub.Authenticate(id, token)

	case domain.EventTrackVehicle:
		s.trackFrame(id, domain.EntityVehicle, frame.Data, true)
	case domain.EventUntrackVehicle:
		s.trackFrame(id, domain.EntityVehicle, frame.Data, false)
	case domain.EventTrackDelivery:
		s.trackFrame(id, domain.EntityDelivery, frame.Data, true)
	case domain.EventUntrackDelivery:
		s.trackFrame(id, domain.EntityDelivery, frame.Data, false)

	default:
		s.hub.SendEvent(id, domain.EventError, "Unknown event: "+frame.Event)
	}
}

func (s *Server) trackFrame(id uuid.UUID, entityType domain.EntityType, data json.RawMessage, join bool) {
	var entityID string
	if err := json.Unmarshal(data, &entityID); err != nil || entityID == "" {
		s.hub.SendEvent(id, domain.EventError, "Invalid message format")
		return
	}
	if join {
		s.hub.Track(id, entityType, entityID)
	} else {
		s.hub.Untrack(id, entityType, entityID)
	}
}
