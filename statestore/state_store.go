package statestore

import (
	"context"
	"time"

	"github.com/fjlanasa/trainpos/config"
)

// VehicleState is the tracking entry kept per vehicle across cycles.
type VehicleState struct {
	LastSeenAt    time.Time
	JourneyNumber int
	// LastPosition is the projected WKT text of the last forwarded event.
	LastPosition string
}

// StateStore holds one entry per vehicle. Entries are never removed, so a
// vehicle's journey number only grows.
type StateStore interface {
	Get(ctx context.Context, vehicleID string) (VehicleState, bool, error)
	// Apply writes all updates as one unit.
	Apply(ctx context.Context, updates map[string]VehicleState) error
	Close() error
}

func NewStateStore(cfg config.StateStoreConfig) StateStore {
	if cfg.Type == config.RedisStateStoreType {
		return NewRedisStateStore(cfg.Redis)
	}
	return NewInMemoryStateStore()
}
