package redis

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/fleetpulse/fleetpulse/internal/domain"
)

var testRedisURL string

func TestMain(m *testing.M) {
	flag.Parse()

	// Skip container setup if running in short mode
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()

	_ = testcontainers.TerminateContainer(container)
	os.Exit(code)
}

func setupTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, testRedisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.FlushAll(ctx).Err())
	return client
}

func sampleLocation(ts time.Time) *domain.LocationUpdate {
	speed := 12.5
	heading := 270.0
	return &domain.LocationUpdate{
		DeviceID:  "dev-1",
		UserID:    "u1",
		Latitude:  52.52,
		Longitude: 13.405,
		Speed:     &speed,
		Heading:   &heading,
		Timestamp: ts,
		Metadata:  map[string]string{"provider": "gps"},
	}
}

func TestLocationStore_SetAndGetRoundTrip(t *testing.T) {
	client := setupTestClient(t)
	store := NewLocationStore(client)
	ctx := context.Background()

	loc := sampleLocation(time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, store.SetCurrent(ctx, domain.EntityVehicle, "v1", loc, CurrentTTL))

	got, err := store.GetCurrent(ctx, domain.EntityVehicle, "v1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, loc, got)
}

func TestLocationStore_GetMissReturnsNil(t *testing.T) {
	client := setupTestClient(t)
	store := NewLocationStore(client)

	got, err := store.GetCurrent(context.Background(), domain.EntityVehicle, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocationStore_CorruptValueTreatedAsMiss(t *testing.T) {
	client := setupTestClient(t)
	store := NewLocationStore(client)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, CurrentKey(domain.EntityVehicle, "v1"), "{not json", CurrentTTL).Err())

	got, err := store.GetCurrent(ctx, domain.EntityVehicle, "v1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocationStore_TTLExpiry(t *testing.T) {
	client := setupTestClient(t)
	store := NewLocationStore(client)
	ctx := context.Background()

	loc := sampleLocation(time.Now().UTC())
	require.NoError(t, store.SetCurrent(ctx, domain.EntityVehicle, "v1", loc, 50*time.Millisecond))

	time.Sleep(100 * time.Millisecond)

	got, err := store.GetCurrent(ctx, domain.EntityVehicle, "v1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocationStore_WriteRefreshesTTL(t *testing.T) {
	client := setupTestClient(t)
	store := NewLocationStore(client)
	ctx := context.Background()

	loc := sampleLocation(time.Now().UTC())
	require.NoError(t, store.SetCurrent(ctx, domain.EntityVehicle, "v1", loc, time.Second))
	require.NoError(t, store.SetCurrent(ctx, domain.EntityVehicle, "v1", loc, CurrentTTL))

	ttl, err := client.TTL(ctx, CurrentKey(domain.EntityVehicle, "v1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Second)
}

func TestLocationStore_LastWriteWinsByArrival(t *testing.T) {
	client := setupTestClient(t)
	store := NewLocationStore(client)
	ctx := context.Background()

	// T2 carries the later event timestamp but arrives first; T1 arrives
	// last and overwrites it. This non-monotonic outcome is the documented
	// behavior of the cache: no logical clock, last write applied wins.
	t1 := sampleLocation(time.Now().UTC().Add(-time.Minute))
	t2 := sampleLocation(time.Now().UTC())

	require.NoError(t, store.SetCurrent(ctx, domain.EntityVehicle, "v1", t2, CurrentTTL))
	require.NoError(t, store.SetCurrent(ctx, domain.EntityVehicle, "v1", t1, CurrentTTL))

	got, err := store.GetCurrent(ctx, domain.EntityVehicle, "v1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, t1.Timestamp, got.Timestamp)
}

func TestLocationStore_ScanCurrentKeys(t *testing.T) {
	client := setupTestClient(t)
	store := NewLocationStore(client)
	ctx := context.Background()

	loc := sampleLocation(time.Now().UTC())
	require.NoError(t, store.SetCurrent(ctx, domain.EntityVehicle, "v1", loc, CurrentTTL))
	require.NoError(t, store.SetCurrent(ctx, domain.EntityVehicle, "v2", loc, CurrentTTL))
	require.NoError(t, store.SetCurrent(ctx, domain.EntityDelivery, "d1", loc, CurrentTTL))

	keys, err := store.ScanCurrentKeys(ctx, domain.EntityVehicle)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		CurrentKey(domain.EntityVehicle, "v1"),
		CurrentKey(domain.EntityVehicle, "v2"),
	}, keys)
}

func TestLocationStore_CountByType(t *testing.T) {
	client := setupTestClient(t)
	store := NewLocationStore(client)
	ctx := context.Background()

	loc := sampleLocation(time.Now().UTC())
	require.NoError(t, store.SetCurrent(ctx, domain.EntityVehicle, "v1", loc, CurrentTTL))
	require.NoError(t, store.SetCurrent(ctx, domain.EntityVehicle, "v2", loc, CurrentTTL))
	require.NoError(t, store.SetCurrent(ctx, domain.EntityDelivery, "d1", loc, CurrentTTL))

	counts, err := store.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.EntityVehicle])
	assert.Equal(t, 1, counts[domain.EntityDelivery])
}

func TestLocationStore_Delete(t *testing.T) {
	client := setupTestClient(t)
	store := NewLocationStore(client)
	ctx := context.Background()

	loc := sampleLocation(time.Now().UTC())
	require.NoError(t, store.SetCurrent(ctx, domain.EntityVehicle, "v1", loc, CurrentTTL))
	require.NoError(t, store.Delete(ctx, domain.EntityVehicle, "v1"))

	got, err := store.GetCurrent(ctx, domain.EntityVehicle, "v1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
