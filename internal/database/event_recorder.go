package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetpulse/fleetpulse/internal/domain"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS location_events (
	id          BIGSERIAL PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	device_id   TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	latitude    DOUBLE PRECISION NOT NULL,
	longitude   DOUBLE PRECISION NOT NULL,
	speed       DOUBLE PRECISION,
	heading     DOUBLE PRECISION,
	accuracy    DOUBLE PRECISION,
	altitude    DOUBLE PRECISION,
	timestamp   TIMESTAMPTZ NOT NULL,
	metadata    JSONB
)`

const insertEvent = `
INSERT INTO location_events
	(entity_type, entity_id, device_id, user_id, latitude, longitude,
	 speed, heading, accuracy, altitude, timestamp, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// EventRecorder appends published location updates to the
// location_events table.
type EventRecorder struct {
	pool *pgxpool.Pool
}

// NewEventRecorder creates the recorder and ensures the events table
// exists.
func NewEventRecorder(ctx context.Context, pool *pgxpool.Pool) (*EventRecorder, error) {
	if _, err := pool.Exec(ctx, createEventsTable); err != nil {
		return nil, fmt.Errorf("failed to ensure location_events table: %w", err)
	}
	return &EventRecorder{pool: pool}, nil
}

// Record appends one event row.
func (r *EventRecorder) Record(ctx context.Context, entityType domain.EntityType, entityID string, loc *domain.LocationUpdate) error {
	_, err := r.pool.Exec(ctx, insertEvent,
		string(entityType), entityID, loc.DeviceID, loc.UserID,
		loc.Latitude, loc.Longitude,
		loc.Speed, loc.Heading, loc.Accuracy, loc.Altitude,
		loc.Timestamp, loc.Metadata,
	)
	if err != nil {
		return &domain.PersistenceError{Cause: err}
	}
	return nil
}
