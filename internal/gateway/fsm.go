package gateway

import (
	"github.com/fleetpulse/fleetpulse/internal/domain"
)

// AuthState is the authentication lifecycle state of a connection.
type AuthState int

const (
	StateConnecting AuthState = iota
	StateUnauthenticated
	StateAuthenticated
	StateTerminated
)

func (s AuthState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// AuthEvent drives the connection state machine.
type AuthEvent interface{ isAuthEvent() }

// EventOpened fires when the transport handshake completes.
type EventOpened struct{}

// EventAuthSucceeded fires when token verification succeeds.
type EventAuthSucceeded struct{ UserID string }

// EventAuthFailed fires on any token verification failure.
type EventAuthFailed struct{ Message string }

// EventClosed fires when the transport closes.
type EventClosed struct{}

func (EventOpened) isAuthEvent()        {}
func (EventAuthSucceeded) isAuthEvent() {}
func (EventAuthFailed) isAuthEvent()    {}
func (EventClosed) isAuthEvent()        {}

// Effect is a side effect the caller must apply after a transition.
type Effect interface{ isEffect() }

// EffectSend emits a protocol event to the connection.
type EffectSend struct {
	Event   string
	Payload any
}

// EffectJoinRoom joins the connection to a room.
type EffectJoinRoom struct{ Room string }

// EffectClose forcibly closes the connection.
type EffectClose struct{ Reason string }

func (EffectSend) isEffect()     {}
func (EffectJoinRoom) isEffect() {}
func (EffectClose) isEffect()    {}

// Transition applies event to state and returns the next state plus the
// side effects to execute, in order. It is pure and synchronous so the
// lifecycle is testable without a live transport.
//
// States: connecting -> unauthenticated -> authenticated, with terminated
// reachable from any of them. Authentication succeeds at most once; a
// repeated authenticate on an already-authenticated connection is ignored.
func Transition(state AuthState, event AuthEvent) (AuthState, []Effect) {
	switch ev := event.(type) {
	case EventOpened:
		if state == StateConnecting {
			return StateUnauthenticated, nil
		}
		return state, nil

	case EventAuthSucceeded:
		if state != StateUnauthenticated {
			return state, nil
		}
		return StateAuthenticated, []Effect{
			EffectJoinRoom{Room: domain.UserRoom(ev.UserID)},
			EffectSend{Event: domain.EventAuthenticated, Payload: domain.AuthResult{Success: true}},
		}

	case EventAuthFailed:
		if state == StateTerminated {
			return state, nil
		}
		return StateTerminated, []Effect{
			EffectSend{Event: domain.EventAuthenticated, Payload: domain.AuthResult{Success: false, Message: ev.Message}},
			EffectClose{Reason: "authentication failed"},
		}

	case EventClosed:
		return StateTerminated, nil
	}

	return state, nil
}
