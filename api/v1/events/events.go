package events

import (
	"time"

	"github.com/fjlanasa/trainpos/geo"
)

// Base interface for everything published on the outlet
type Event interface {
	GetRouteId() string
	GetAttributes() map[string]any
}

// PositionEvent is one decoded TrainPosition entry.
type PositionEvent struct {
	VehicleID    string
	Projected    geo.Point // SWEREF99 TM, metres
	Geographic   geo.Point // WGS84, lon/lat
	ModifiedTime time.Time
	MeasuredTime time.Time
	Bearing      *int
	Speed        *int
}

// Record is one persisted row: (route, vehicle, journey, measurement).
type Record struct {
	RouteID       string
	VehicleID     string
	JourneyNumber int
	ReceivedTime  time.Time
	ModifiedTime  time.Time
	MeasuredTime  time.Time
	SwerefX       float64
	SwerefY       float64
	Longitude     float64
	Latitude      float64
	Bearing       *int
	Speed         *int
}

func NewRecord(routeID string, event PositionEvent, journey int, received time.Time) Record {
	return Record{
		RouteID:       routeID,
		VehicleID:     event.VehicleID,
		JourneyNumber: journey,
		ReceivedTime:  received,
		ModifiedTime:  event.ModifiedTime,
		MeasuredTime:  event.MeasuredTime,
		SwerefX:       event.Projected.X,
		SwerefY:       event.Projected.Y,
		Longitude:     event.Geographic.X,
		Latitude:      event.Geographic.Y,
		Bearing:       event.Bearing,
		Speed:         event.Speed,
	}
}

func (r *Record) GetRouteId() string {
	return r.RouteID
}

func (r *Record) GetAttributes() map[string]any {
	return map[string]any{
		"route_id":       r.RouteID,
		"vehicle_id":     r.VehicleID,
		"journey_number": r.JourneyNumber,
		"received_time":  r.ReceivedTime.Unix(),
		"modified_time":  r.ModifiedTime.Unix(),
		"measured_time":  r.MeasuredTime.Unix(),
		"sweref99tm_x":   r.SwerefX,
		"sweref99tm_y":   r.SwerefY,
		"longitude":      r.Longitude,
		"latitude":       r.Latitude,
		"bearing":        intOrNil(r.Bearing),
		"speed":          intOrNil(r.Speed),
	}
}

// GetEventMap returns the event attributes without unset optional fields.
func GetEventMap(event Event) map[string]any {
	attrs := event.GetAttributes()
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
