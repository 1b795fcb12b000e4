package domain

import (
	"fmt"
	"time"
)

// EntityType identifies the kind of tracked entity a room or cache entry
// refers to.
type EntityType string

const (
	EntityVehicle  EntityType = "vehicle"
	EntityDelivery EntityType = "delivery"
	EntityUser     EntityType = "user"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityVehicle, EntityDelivery, EntityUser:
		return true
	}
	return false
}

// LocationUpdate is an immutable location sample produced by the ingestion
// side and fanned out to subscribed clients. Range validation of the
// coordinate fields happens upstream; nothing here re-checks it.
type LocationUpdate struct {
	DeviceID  string            `json:"deviceId"`
	UserID    string            `json:"userId"`
	Latitude  float64           `json:"latitude"`
	Longitude float64           `json:"longitude"`
	Speed     *float64          `json:"speed,omitempty"`
	Heading   *float64          `json:"heading,omitempty"`
	Accuracy  *float64          `json:"accuracy,omitempty"`
	Altitude  *float64          `json:"altitude,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// LocationEnvelope is the cross-instance pub/sub payload wrapping a
// LocationUpdate with its room coordinates.
type LocationEnvelope struct {
	Type     EntityType     `json:"type"`
	EntityID string         `json:"entityId"`
	Location LocationUpdate `json:"location"`
}

// RoomName returns the canonical room name for an entity, e.g. "vehicle:v1".
func RoomName(t EntityType, entityID string) string {
	return fmt.Sprintf("%s:%s", t, entityID)
}

// UserRoom returns the personal room a connection auto-joins after
// authenticating.
func UserRoom(userID string) string {
	return RoomName(EntityUser, userID)
}
