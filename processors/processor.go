package processors

import (
	"context"

	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/processors/journeys"
	"github.com/fjlanasa/trainpos/processors/routing"
	"github.com/fjlanasa/trainpos/registry"
)

type DropReason string

const (
	DropNone             DropReason = ""
	DropUnsubscribed     DropReason = "unsubscribed"
	DropDuplicate        DropReason = "duplicate"
	DropOutsideRectangle DropReason = "outside_rectangle"
	DropDecode           DropReason = "decode"
	DropFirstJourney     DropReason = "first_journey"
)

// Dispatcher runs one decoded event through segmentation and routing.
type Dispatcher struct {
	router    *routing.Router
	segmenter *journeys.Segmenter
}

func NewDispatcher(reg *registry.Registry, segmenter *journeys.Segmenter) *Dispatcher {
	return &Dispatcher{router: routing.NewRouter(reg), segmenter: segmenter}
}

func (d *Dispatcher) Begin() *journeys.Cycle {
	return d.segmenter.Begin()
}

// Dispatch queues the records produced by event into batch. It returns the
// reason the event produced no record, or DropNone.
//
// Events of unsubscribed vehicles never touch tracking state.
func (d *Dispatcher) Dispatch(ctx context.Context, cycle *journeys.Cycle, batch *routing.Batch, event events.PositionEvent) (DropReason, error) {
	if !d.router.Subscribed(event.VehicleID) {
		return DropUnsubscribed, nil
	}

	result, err := cycle.Segment(ctx, event)
	if err != nil {
		return DropNone, err
	}
	switch result.Decision {
	case journeys.Duplicate:
		return DropDuplicate, nil
	case journeys.Suppressed:
		return DropFirstJourney, nil
	}

	if d.router.Route(event, result.Journey, batch) == 0 {
		return DropOutsideRectangle, nil
	}
	return DropNone, nil
}
