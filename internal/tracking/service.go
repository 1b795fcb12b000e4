// Package tracking exposes the domain-facing location API: publish an
// update, query the cached current location, enumerate cached locations,
// and subscribe to the raw update stream.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetpulse/fleetpulse/internal/domain"
	"github.com/fleetpulse/fleetpulse/internal/metrics"
	redisstore "github.com/fleetpulse/fleetpulse/internal/redis"
)

const (
	updatesChannelPrefix  = "location:updates:"
	updatesChannelPattern = "location:updates:*"
)

// UpdatesChannel returns the cross-instance channel carrying raw update
// envelopes for one entity, e.g. "location:updates:vehicle:v1".
func UpdatesChannel(entityType domain.EntityType, entityID string) string {
	return fmt.Sprintf("%s%s:%s", updatesChannelPrefix, entityType, entityID)
}

// Cache is the current-location cache the service reads and writes.
type Cache interface {
	SetCurrent(ctx context.Context, entityType domain.EntityType, entityID string, loc *domain.LocationUpdate, ttl time.Duration) error
	GetCurrent(ctx context.Context, entityType domain.EntityType, entityID string) (*domain.LocationUpdate, error)
	GetByKey(ctx context.Context, key string) (*domain.LocationUpdate, error)
	ScanCurrentKeys(ctx context.Context, entityType domain.EntityType) ([]string, error)
	CountByType(ctx context.Context) (map[domain.EntityType]int, error)
}

// Broadcaster delivers an event to the members of a room; instance-wide
// once the gateway has a coordinator attached.
type Broadcaster interface {
	BroadcastToRoom(ctx context.Context, room, event string, payload any) error
}

// ChannelPublisher publishes a raw payload to a named pub/sub channel.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Recorder hands a published update to the time-series persistence
// collaborator. Failures are logged and never affect the publish path.
type Recorder interface {
	Record(ctx context.Context, entityType domain.EntityType, entityID string, loc *domain.LocationUpdate) error
}

// Stats counts entities with a non-expired current location, per type.
// This is not a count of registered entities.
type Stats struct {
	Vehicles   int `json:"vehicles"`
	Deliveries int `json:"deliveries"`
	Users      int `json:"users"`
	Total      int `json:"total"`
}

// Service implements the tracking API over the cache, the gateway's room
// broadcast primitive, and the shared pub/sub store.
type Service struct {
	cache       Cache
	broadcaster Broadcaster
	pub         ChannelPublisher
	sub         *redis.Client
	recorder    Recorder
	ttl         time.Duration
}

// NewService wires the tracking service. sub is a dedicated subscribe
// client used only by SubscribeToLocationUpdates; recorder may be nil when
// persistence is disabled.
func NewService(cache Cache, broadcaster Broadcaster, pub ChannelPublisher, sub *redis.Client, recorder Recorder) *Service {
	return &Service{
		cache:       cache,
		broadcaster: broadcaster,
		pub:         pub,
		sub:         sub,
		recorder:    recorder,
		ttl:         redisstore.CurrentTTL,
	}
}

// PublishLocationUpdate fans out one location sample:
//
//  1. publish the envelope to the entity's cross-instance channel,
//  2. broadcast to locally connected room members,
//  3. upsert the current-location cache entry (unconditional overwrite,
//     last-write-wins by arrival time),
//  4. best-effort hand-off to the persistence collaborator.
//
// A channel publish failure degrades to local-only delivery and is not
// surfaced. The call returns once the cache write completed; persistence
// runs detached.
func (s *Service) PublishLocationUpdate(ctx context.Context, entityType domain.EntityType, entityID string, loc *domain.LocationUpdate) error {
	envelope := domain.LocationEnvelope{Type: entityType, EntityID: entityID, Location: *loc}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := s.pub.Publish(ctx, UpdatesChannel(entityType, entityID), data); err != nil {
		slog.Warn("Cross-instance update publish failed",
			"entity_type", entityType, "entity_id", entityID, "error", err)
		metrics.CoordinationErrors.WithLabelValues("publish").Inc()
	}

	room := domain.RoomName(entityType, entityID)
	if err := s.broadcaster.BroadcastToRoom(ctx, room, domain.EventLocationUpdate, envelope); err != nil {
		return fmt.Errorf("failed to broadcast to %s: %w", room, err)
	}

	if err := s.cache.SetCurrent(ctx, entityType, entityID, loc, s.ttl); err != nil {
		return fmt.Errorf("failed to cache current location: %w", err)
	}

	metrics.LocationUpdatesPublished.WithLabelValues(string(entityType)).Inc()

	if s.recorder != nil {
		persistCtx := context.WithoutCancel(ctx)
		go func() {
			if err := s.recorder.Record(persistCtx, entityType, entityID, loc); err != nil {
				slog.Error("Best-effort persistence failed",
					"entity_type", entityType, "entity_id", entityID,
					"error", &domain.PersistenceError{Cause: err})
				metrics.PersistenceFailures.Inc()
			}
		}()
	}

	return nil
}

// GetCurrentLocation resolves the cached current location. A miss or a
// corrupt entry both resolve to nil; it never falls back to persistence.
func (s *Service) GetCurrentLocation(ctx context.Context, entityType domain.EntityType, entityID string) (*domain.LocationUpdate, error) {
	return s.cache.GetCurrent(ctx, entityType, entityID)
}

// GetAllVehicleLocations scans the vehicle namespace and resolves every key
// concurrently into a map keyed by vehicle id. The scan and the per-key
// reads are not transactional: entries may reflect different instants, and
// keys expiring mid-resolution are simply absent from the result. No
// pagination.
func (s *Service) GetAllVehicleLocations(ctx context.Context) (map[string]*domain.LocationUpdate, error) {
	keys, err := s.cache.ScanCurrentKeys(ctx, domain.EntityVehicle)
	if err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		locations = make(map[string]*domain.LocationUpdate, len(keys))
	)
	for _, key := range keys {
		_, entityID, ok := redisstore.ParseCurrentKey(key)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			loc, err := s.cache.GetByKey(ctx, key)
			if err != nil {
				slog.Warn("Failed to resolve cached location", "key", key, "error", err)
				return
			}
			if loc == nil {
				return
			}
			mu.Lock()
			locations[entityID] = loc
			mu.Unlock()
		}()
	}
	wg.Wait()

	return locations, nil
}

// SubscribeToLocationUpdates receives every cross-instance publish,
// including this instance's own, on an independent subscribe connection and
// invokes callback for each decoded envelope. Undecodable payloads are
// dropped with a log line. Blocks until ctx is cancelled.
func (s *Service) SubscribeToLocationUpdates(ctx context.Context, callback func(channel string, envelope *domain.LocationEnvelope)) {
	pubsub := s.sub.PSubscribe(ctx, updatesChannelPattern)
	defer func() {
		_ = pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				slog.Warn("Update subscription closed")
				return
			}
			metrics.PubSubMessagesReceived.WithLabelValues(updatesChannelPattern).Inc()
			handleUpdateMessage(msg.Channel, []byte(msg.Payload), callback)
		case <-ctx.Done():
			return
		}
	}
}

func handleUpdateMessage(channel string, payload []byte, callback func(string, *domain.LocationEnvelope)) {
	var envelope domain.LocationEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		serr := &domain.SerializationError{Channel: channel, Cause: err}
		slog.Warn("Dropping undecodable update", "error", serr)
		metrics.PubSubMessagesDropped.Inc()
		return
	}
	callback(channel, &envelope)
}

// GetTrackingStats counts currently cached locations by entity type.
func (s *Service) GetTrackingStats(ctx context.Context) (Stats, error) {
	counts, err := s.cache.CountByType(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Vehicles:   counts[domain.EntityVehicle],
		Deliveries: counts[domain.EntityDelivery],
		Users:      counts[domain.EntityUser],
	}
	stats.Total = stats.Vehicles + stats.Deliveries + stats.Users
	return stats, nil
}

// RedisPublisher adapts a go-redis client to the ChannelPublisher interface
// using the dedicated publish connection.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return &domain.CoordinationError{Op: "publish", Cause: err}
	}
	return nil
}

// ChannelEntity extracts the entity coordinates from an updates channel
// name, for subscribers that route on the channel.
func ChannelEntity(channel string) (domain.EntityType, string, bool) {
	rest, ok := strings.CutPrefix(channel, updatesChannelPrefix)
	if !ok {
		return "", "", false
	}
	entityType, entityID, ok := strings.Cut(rest, ":")
	if !ok || entityID == "" {
		return "", "", false
	}
	return domain.EntityType(entityType), entityID, true
}
