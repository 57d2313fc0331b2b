package statestore

import (
	"context"
	"sync"
)

// InMemoryStateStore keeps vehicle state for the life of the process.
type InMemoryStateStore struct {
	states map[string]VehicleState
	mu     sync.RWMutex
}

func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{states: make(map[string]VehicleState)}
}

func (s *InMemoryStateStore) Get(_ context.Context, vehicleID string) (VehicleState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[vehicleID]
	return state, ok, nil
}

func (s *InMemoryStateStore) Apply(_ context.Context, updates map[string]VehicleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, state := range updates {
		s.states[id] = state
	}
	return nil
}

func (s *InMemoryStateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func (s *InMemoryStateStore) Close() error {
	return nil
}
