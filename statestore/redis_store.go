package statestore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fjlanasa/trainpos/config"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "trainpos:vehicle:"

const (
	fieldLastSeenAt    = "last_seen_at"
	fieldJourneyNumber = "journey_number"
	fieldLastPosition  = "last_position"
)

// RedisStateStore keeps one hash per vehicle so journey numbering survives
// restarts. Keys never expire.
type RedisStateStore struct {
	prefix string
	client *redis.Client
}

func NewRedisStateStore(config config.RedisStateStoreConfig) *RedisStateStore {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisStateStoreWithClient(client, config)
}

func NewRedisStateStoreWithClient(client *redis.Client, config config.RedisStateStoreConfig) *RedisStateStore {
	prefix := config.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStateStore{
		prefix: prefix,
		client: client,
	}
}

func (s *RedisStateStore) key(vehicleID string) string {
	return s.prefix + vehicleID
}

func (s *RedisStateStore) Get(ctx context.Context, vehicleID string) (VehicleState, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(vehicleID)).Result()
	if err != nil {
		return VehicleState{}, false, fmt.Errorf("redis state get %s: %w", vehicleID, err)
	}
	if len(fields) == 0 {
		return VehicleState{}, false, nil
	}

	seen, err := strconv.ParseInt(fields[fieldLastSeenAt], 10, 64)
	if err != nil {
		return VehicleState{}, false, fmt.Errorf("redis state %s: invalid %s: %w", vehicleID, fieldLastSeenAt, err)
	}
	journey, err := strconv.Atoi(fields[fieldJourneyNumber])
	if err != nil {
		return VehicleState{}, false, fmt.Errorf("redis state %s: invalid %s: %w", vehicleID, fieldJourneyNumber, err)
	}
	return VehicleState{
		LastSeenAt:    time.Unix(0, seen).UTC(),
		JourneyNumber: journey,
		LastPosition:  fields[fieldLastPosition],
	}, true, nil
}

func (s *RedisStateStore) Apply(ctx context.Context, updates map[string]VehicleState) error {
	if len(updates) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, state := range updates {
			pipe.HSet(ctx, s.key(id),
				fieldLastSeenAt, state.LastSeenAt.UnixNano(),
				fieldJourneyNumber, state.JourneyNumber,
				fieldLastPosition, state.LastPosition,
			)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis state apply: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
