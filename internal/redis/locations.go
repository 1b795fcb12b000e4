package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetpulse/fleetpulse/internal/domain"
)

const (
	currentKeyPrefix = "location:current:"

	// CurrentTTL bounds how long a cached current location stays visible
	// without a refreshing write.
	CurrentTTL = 300 * time.Second

	scanPageSize = 100
)

// CurrentKey returns the cache key for an entity's current location,
// e.g. "location:current:vehicle:v1".
func CurrentKey(entityType domain.EntityType, entityID string) string {
	return fmt.Sprintf("%s%s:%s", currentKeyPrefix, entityType, entityID)
}

// ParseCurrentKey extracts the entity type and id from a cache key.
func ParseCurrentKey(key string) (domain.EntityType, string, bool) {
	rest, ok := strings.CutPrefix(key, currentKeyPrefix)
	if !ok {
		return "", "", false
	}
	entityType, entityID, ok := strings.Cut(rest, ":")
	if !ok || entityID == "" {
		return "", "", false
	}
	return domain.EntityType(entityType), entityID, true
}

// LocationStore is the TTL-bounded cache of current locations, shared by
// every instance. Writes are unconditional overwrites: the last write
// applied wins by arrival time, not by event time.
type LocationStore struct {
	rdb *redis.Client
}

func NewLocationStore(rdb *redis.Client) *LocationStore {
	return &LocationStore{rdb: rdb}
}

// SetCurrent upserts the entity's current location. The TTL restarts on
// every write; there is no comparison against the existing entry.
func (s *LocationStore) SetCurrent(ctx context.Context, entityType domain.EntityType, entityID string, loc *domain.LocationUpdate, ttl time.Duration) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}
	return s.rdb.Set(ctx, CurrentKey(entityType, entityID), data, ttl).Err()
}

// GetCurrent returns the cached current location, or nil on a miss. A
// corrupt value also resolves to nil; it is logged, never surfaced.
func (s *LocationStore) GetCurrent(ctx context.Context, entityType domain.EntityType, entityID string) (*domain.LocationUpdate, error) {
	return s.GetByKey(ctx, CurrentKey(entityType, entityID))
}

// GetByKey reads one cache entry by its full key.
func (s *LocationStore) GetByKey(ctx context.Context, key string) (*domain.LocationUpdate, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var loc domain.LocationUpdate
	if err := json.Unmarshal(data, &loc); err != nil {
		slog.Warn("Corrupt cache entry treated as miss", "key", key, "error", err)
		return nil, nil
	}
	return &loc, nil
}

// Delete explicitly invalidates an entry. No core path calls this today;
// stale entries rely solely on TTL expiry.
func (s *LocationStore) Delete(ctx context.Context, entityType domain.EntityType, entityID string) error {
	return s.rdb.Del(ctx, CurrentKey(entityType, entityID)).Err()
}

// ScanCurrentKeys enumerates the cache keys of one entity type. The scan is
// cursor-based and unpaginated toward the caller: everything accumulates
// into one slice.
func (s *LocationStore) ScanCurrentKeys(ctx context.Context, entityType domain.EntityType) ([]string, error) {
	return s.scan(ctx, currentKeyPrefix+string(entityType)+":*")
}

// CountByType counts currently cached entries per entity type. This is
// "entities with a non-expired current location", not "registered entities".
func (s *LocationStore) CountByType(ctx context.Context) (map[domain.EntityType]int, error) {
	keys, err := s.scan(ctx, currentKeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.EntityType]int)
	for _, key := range keys {
		entityType, _, ok := ParseCurrentKey(key)
		if !ok {
			continue
		}
		counts[entityType]++
	}
	return counts, nil
}

func (s *LocationStore) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		page, next, err := s.rdb.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
