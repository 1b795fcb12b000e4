package domain

import "encoding/json"

// Event names of the bidirectional connection protocol.
const (
	// client -> server
	EventAuthenticate    = "authenticate"
	EventTrackVehicle    = "track:vehicle"
	EventUntrackVehicle  = "untrack:vehicle"
	EventTrackDelivery   = "track:delivery"
	EventUntrackDelivery = "untrack:delivery"

	// server -> client
	EventConnected      = "connected"
	EventAuthenticated  = "authenticated"
	EventLocationUpdate = "location:update"
	EventError          = "error"
)

// Frame is the wire format of a single protocol message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnectedInfo is the payload of the "connected" server event. The
// connection id is what a client presents to resume its session within the
// reconnection grace window.
type ConnectedInfo struct {
	ConnectionID string `json:"connectionId"`
	Resumed      bool   `json:"resumed"`
}

// AuthResult is the payload of the "authenticated" server event.
type AuthResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// NewFrame marshals payload and wraps it with the event name.
func NewFrame(event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: data}, nil
}
