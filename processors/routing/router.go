package routing

import (
	"log/slog"
	"time"

	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/config"
	"github.com/fjlanasa/trainpos/registry"
)

// Router fans a segmented event out to every subscribing route whose
// rectangle, if any, contains the position.
type Router struct {
	registry *registry.Registry
	now      func() time.Time
}

func NewRouter(reg *registry.Registry) *Router {
	return &Router{registry: reg, now: time.Now}
}

// Subscribed reports whether any route follows the vehicle.
func (r *Router) Subscribed(vehicleID string) bool {
	return len(r.registry.RoutesFor(vehicleID)) > 0
}

// Route queues one record per accepting route and returns how many were
// queued. All records of one event share the received time.
func (r *Router) Route(event events.PositionEvent, journey int, batch *Batch) int {
	received := r.now()
	queued := 0
	for _, route := range r.registry.RoutesFor(event.VehicleID) {
		if route.Rectangle != nil && !route.Rectangle.Contains(event.Geographic.X, event.Geographic.Y) {
			continue
		}
		batch.Add(events.NewRecord(string(route.ID), event, journey, received))
		queued++
	}
	if queued == 0 {
		slog.Debug("position outside every route rectangle", "vehicle_id", event.VehicleID, "position", event.Geographic.String())
	}
	return queued
}

// Batch holds one cycle's records grouped by route.
type Batch struct {
	order   []config.ID
	records map[config.ID][]events.Record
	size    int
}

func NewBatch() *Batch {
	return &Batch{records: map[config.ID][]events.Record{}}
}

func (b *Batch) Add(record events.Record) {
	id := config.ID(record.RouteID)
	if _, ok := b.records[id]; !ok {
		b.order = append(b.order, id)
	}
	b.records[id] = append(b.records[id], record)
	b.size++
}

// Routes returns the touched routes in the order they were first touched.
func (b *Batch) Routes() []config.ID {
	return b.order
}

func (b *Batch) Records(id config.ID) []events.Record {
	return b.records[id]
}

func (b *Batch) Len() int {
	return b.size
}

// All returns every record, grouped by route.
func (b *Batch) All() []events.Record {
	out := make([]events.Record, 0, b.size)
	for _, id := range b.order {
		out = append(out, b.records[id]...)
	}
	return out
}
