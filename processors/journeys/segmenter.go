package journeys

import (
	"context"
	"fmt"
	"time"

	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/config"
	"github.com/fjlanasa/trainpos/statestore"
)

type Decision int

const (
	Forward Decision = iota
	// Duplicate means the projected position is unchanged since the last
	// forwarded event.
	Duplicate
	// Suppressed means the event belongs to a vehicle's first journey and
	// first journeys are skipped.
	Suppressed
)

func (d Decision) String() string {
	switch d {
	case Forward:
		return "forward"
	case Duplicate:
		return "duplicate"
	case Suppressed:
		return "first_journey"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

type Result struct {
	Journey  int
	Decision Decision
}

// Segmenter assigns journey numbers and drops repeated positions. It owns
// all writes to vehicle tracking state.
type Segmenter struct {
	store     statestore.StateStore
	threshold time.Duration
	first     int
	skipFirst bool
}

func NewSegmenter(store statestore.StateStore, cfg config.JourneyConfig) *Segmenter {
	cfg.ApplyDefaults()
	return &Segmenter{
		store:     store,
		threshold: cfg.IdleThreshold,
		first:     cfg.FirstJourney,
		skipFirst: cfg.SkipFirstJourney,
	}
}

// Begin starts a cycle. Nothing reaches the state store until Commit.
func (s *Segmenter) Begin() *Cycle {
	return &Cycle{segmenter: s, staged: map[string]statestore.VehicleState{}}
}

// Cycle stages tracking updates for one poll cycle so that a failed cycle
// leaves the store untouched.
type Cycle struct {
	segmenter *Segmenter
	staged    map[string]statestore.VehicleState
}

func (c *Cycle) lookup(ctx context.Context, vehicleID string) (statestore.VehicleState, bool, error) {
	if state, ok := c.staged[vehicleID]; ok {
		return state, true, nil
	}
	return c.segmenter.store.Get(ctx, vehicleID)
}

// Segment updates the vehicle's staged state with a new measurement.
//
// The first observation opens the first journey. Later a gap strictly
// longer than the idle threshold since the last measurement opens the next
// one. The last-seen time is always updated, even for dropped events.
func (c *Cycle) Segment(ctx context.Context, event events.PositionEvent) (Result, error) {
	s := c.segmenter
	state, found, err := c.lookup(ctx, event.VehicleID)
	if err != nil {
		return Result{}, fmt.Errorf("load state for %s: %w", event.VehicleID, err)
	}

	if !found {
		state.JourneyNumber = s.first
	} else if event.MeasuredTime.Sub(state.LastSeenAt) > s.threshold {
		state.JourneyNumber++
	}
	state.LastSeenAt = event.MeasuredTime

	result := Result{Journey: state.JourneyNumber}
	switch {
	case found && event.Projected.Raw == state.LastPosition:
		result.Decision = Duplicate
	case s.skipFirst && state.JourneyNumber == s.first:
		state.LastPosition = event.Projected.Raw
		result.Decision = Suppressed
	default:
		state.LastPosition = event.Projected.Raw
		result.Decision = Forward
	}

	c.staged[event.VehicleID] = state
	return result, nil
}

// Staged returns the pending state of a vehicle.
func (c *Cycle) Staged(vehicleID string) (statestore.VehicleState, bool) {
	state, ok := c.staged[vehicleID]
	return state, ok
}

func (c *Cycle) Len() int {
	return len(c.staged)
}

// Commit writes the staged updates. Call it only after the cycle's records
// were persisted.
func (c *Cycle) Commit(ctx context.Context) error {
	if len(c.staged) == 0 {
		return nil
	}
	if err := c.segmenter.store.Apply(ctx, c.staged); err != nil {
		return err
	}
	c.staged = map[string]statestore.VehicleState{}
	return nil
}

func (c *Cycle) Discard() {
	c.staged = map[string]statestore.VehicleState{}
}
