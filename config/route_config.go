package config

import (
	"fmt"
	"strings"

	"github.com/fjlanasa/trainpos/geo"
)

// Route

type CoordinateConfig struct {
	Lon float64 `yaml:"lon" validate:"gte=-180,lte=180"`
	Lat float64 `yaml:"lat" validate:"gte=-90,lte=90"`
}

type RectangleConfig struct {
	CornerA CoordinateConfig `yaml:"corner_a"`
	CornerB CoordinateConfig `yaml:"corner_b"`
}

type RouteConfigYaml struct {
	ID        ID               `yaml:"id"`
	Stations  []string         `yaml:"stations" validate:"required,min=1,dive,required"`
	Rectangle *RectangleConfig `yaml:"rectangle"`
	Sink      SinkConfig       `yaml:"sink"`
}

type RouteConfig struct {
	ID        ID
	Stations  []string
	Rectangle *geo.Rectangle
	Sink      SinkConfig
}

// Materialize resolves the route id (stations joined by "_" when unset) and
// the inclusion rectangle.
func (r RouteConfigYaml) Materialize() (RouteConfig, error) {
	stations := make([]string, 0, len(r.Stations))
	for _, s := range r.Stations {
		s = strings.TrimSpace(s)
		if s == "" {
			return RouteConfig{}, fmt.Errorf("route %q: empty station code", r.ID)
		}
		stations = append(stations, s)
	}
	id := r.ID
	if id == "" {
		id = ID(strings.Join(stations, "_"))
	}

	route := RouteConfig{ID: id, Stations: stations, Sink: r.Sink}
	if r.Rectangle != nil {
		a := geo.Point{X: r.Rectangle.CornerA.Lon, Y: r.Rectangle.CornerA.Lat}
		b := geo.Point{X: r.Rectangle.CornerB.Lon, Y: r.Rectangle.CornerB.Lat}
		if a.X == b.X || a.Y == b.Y {
			return RouteConfig{}, fmt.Errorf("route %q: rectangle corners must differ on both axes", id)
		}
		rect := geo.NewRectangle(a, b)
		route.Rectangle = &rect
	}
	return route, nil
}
