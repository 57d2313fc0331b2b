package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/fjlanasa/trainpos/config"
	"github.com/fjlanasa/trainpos/geo"
)

type Route struct {
	ID        config.ID
	Stations  []string
	Rectangle *geo.Rectangle
}

func RouteFromConfig(cfg config.RouteConfig) Route {
	return Route{ID: cfg.ID, Stations: cfg.Stations, Rectangle: cfg.Rectangle}
}

// Discoverer returns the identifiers of the vehicles seen at every one of
// the given stations.
type Discoverer interface {
	Discover(ctx context.Context, stations []string) ([]string, error)
}

// DiscoveryError means a route's vehicle set could not be determined. No
// route can run without it, so it is fatal at startup.
type DiscoveryError struct {
	RouteID  config.ID
	Stations []string
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery for route %q (stations %v): %v", e.RouteID, e.Stations, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Registry maps routes to their subscribed vehicles and back. It is never
// mutated after Build, so concurrent readers need no locking.
type Registry struct {
	routes   []Route
	vehicles map[config.ID][]string
	byID     map[config.ID]Route
	index    map[string][]Route
}

func Build(ctx context.Context, routes []Route, discoverer Discoverer) (*Registry, error) {
	subscriptions := make(map[config.ID][]string, len(routes))
	for _, route := range routes {
		ids, err := discoverer.Discover(ctx, route.Stations)
		if err != nil {
			return nil, &DiscoveryError{RouteID: route.ID, Stations: route.Stations, Err: err}
		}
		slog.Info("discovered vehicles", "route_id", route.ID, "stations", route.Stations, "vehicles", len(ids))
		subscriptions[route.ID] = ids
	}
	return New(routes, subscriptions)
}

// New builds a registry from already known subscriptions.
func New(routes []Route, subscriptions map[config.ID][]string) (*Registry, error) {
	r := &Registry{
		routes:   make([]Route, 0, len(routes)),
		vehicles: make(map[config.ID][]string, len(routes)),
		byID:     make(map[config.ID]Route, len(routes)),
		index:    make(map[string][]Route),
	}
	for _, route := range routes {
		if _, ok := r.byID[route.ID]; ok {
			return nil, fmt.Errorf("duplicate route id %q", route.ID)
		}
		ids := unique(subscriptions[route.ID])
		r.routes = append(r.routes, route)
		r.byID[route.ID] = route
		r.vehicles[route.ID] = ids
		for _, id := range ids {
			r.index[id] = append(r.index[id], route)
		}
	}
	return r, nil
}

// RoutesFor returns the routes subscribing the vehicle in registry order, or
// nil for unknown vehicles.
func (r *Registry) RoutesFor(vehicleID string) []Route {
	return r.index[vehicleID]
}

func (r *Registry) Routes() []Route {
	return r.routes
}

func (r *Registry) Route(id config.ID) (Route, bool) {
	route, ok := r.byID[id]
	return route, ok
}

// Vehicles returns the sorted vehicle identifiers subscribed by the route.
func (r *Registry) Vehicles(id config.ID) []string {
	return r.vehicles[id]
}

// Len is the number of distinct vehicles across all routes.
func (r *Registry) Len() int {
	return len(r.index)
}

func unique(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	out = slices.Compact(out)
	return slices.DeleteFunc(out, func(id string) bool { return id == "" })
}
