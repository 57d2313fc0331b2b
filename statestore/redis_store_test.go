package statestore

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjlanasa/trainpos/config"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T, cfg config.RedisStateStoreConfig) (*RedisStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Addr = mr.Addr()
	store := NewRedisStateStore(cfg)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisApplyGet(t *testing.T) {
	store, mr := newTestRedisStore(t, config.RedisStateStoreConfig{})

	want := VehicleState{
		LastSeenAt:    time.Date(2024, 3, 1, 12, 0, 0, 123, time.UTC),
		JourneyNumber: 3,
		LastPosition:  "POINT (674130 6579686)",
	}
	if err := store.Apply(ctx, map[string]VehicleState{"8834": want}); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}

	got, found, err := store.Get(ctx, "8834")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !found {
		t.Fatal("expected 8834 to be found")
	}
	if !got.LastSeenAt.Equal(want.LastSeenAt) || got.JourneyNumber != want.JourneyNumber || got.LastPosition != want.LastPosition {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if v := mr.HGet(defaultRedisPrefix+"8834", fieldJourneyNumber); v != "3" {
		t.Errorf("got journey field %q, want 3", v)
	}
	if mr.TTL(defaultRedisPrefix+"8834") != 0 {
		t.Error("expected no expiry by default")
	}
}

func TestRedisGetMissing(t *testing.T) {
	store, _ := newTestRedisStore(t, config.RedisStateStoreConfig{})

	_, found, err := store.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if found {
		t.Error("expected found=false for missing key")
	}
}

func TestRedisPrefixNeverExpires(t *testing.T) {
	store, mr := newTestRedisStore(t, config.RedisStateStoreConfig{Prefix: "test:"})

	_ = store.Apply(ctx, map[string]VehicleState{"1": {LastSeenAt: time.Unix(100, 0), JourneyNumber: 4}})
	mr.FastForward(30 * 24 * time.Hour)

	if !mr.Exists("test:1") {
		t.Fatal("expected key test:1")
	}
	if ttl := mr.TTL("test:1"); ttl != 0 {
		t.Errorf("got ttl %v, want none", ttl)
	}
	got, found, err := store.Get(ctx, "1")
	if err != nil || !found || got.JourneyNumber != 4 {
		t.Errorf("got %+v (found=%v, err=%v), want journey 4", got, found, err)
	}
}

func TestRedisCorruptState(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStateStoreWithClient(client, config.RedisStateStoreConfig{})
	defer store.Close()

	mr.HSet(defaultRedisPrefix+"1", fieldLastSeenAt, "yesterday", fieldJourneyNumber, "0")

	if _, _, err := store.Get(ctx, "1"); err == nil {
		t.Error("expected error for corrupt state")
	}
}

func TestRedisApplyEmpty(t *testing.T) {
	store, _ := newTestRedisStore(t, config.RedisStateStoreConfig{})
	if err := store.Apply(ctx, nil); err != nil {
		t.Errorf("Apply(nil) returned error: %v", err)
	}
}
