package graphs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjlanasa/trainpos/config"
	"github.com/fjlanasa/trainpos/pipelines"
	"github.com/fjlanasa/trainpos/processors"
	"github.com/fjlanasa/trainpos/processors/journeys"
	"github.com/fjlanasa/trainpos/registry"
	"github.com/fjlanasa/trainpos/sinks"
	"github.com/fjlanasa/trainpos/sources"
	"github.com/fjlanasa/trainpos/statestore"
)

// Graph wires discovery, journey state, per-route sinks and the polling
// pipeline for one configuration.
type Graph struct {
	registry   *registry.Registry
	stateStore statestore.StateStore
	sinks      map[config.ID]sinks.Sink
	pipeline   *pipelines.Pipeline
	outlet     chan any
}

type graphOptions struct {
	outlet     chan any
	source     sources.Source
	discoverer registry.Discoverer
	metrics    pipelines.Metrics
}

type GraphOption func(*graphOptions)

func WithOutlet(outlet chan any) GraphOption {
	return func(o *graphOptions) {
		o.outlet = outlet
	}
}

func WithSource(source sources.Source) GraphOption {
	return func(o *graphOptions) {
		o.source = source
	}
}

func WithDiscoverer(discoverer registry.Discoverer) GraphOption {
	return func(o *graphOptions) {
		o.discoverer = discoverer
	}
}

func WithMetrics(m pipelines.Metrics) GraphOption {
	return func(o *graphOptions) {
		o.metrics = m
	}
}

// NewGraph discovers the vehicles of every route and opens every sink.
// Discovery failure is fatal.
func NewGraph(ctx context.Context, cfg *config.Config, opts ...GraphOption) (*Graph, error) {
	var o graphOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.source == nil || o.discoverer == nil {
		httpSource := sources.NewHTTPSource(cfg.Source).WithDiscovery(cfg.Discovery)
		if o.source == nil {
			o.source = httpSource
		}
		if o.discoverer == nil {
			o.discoverer = sources.NewDiscoverer(httpSource)
		}
	}

	routes := make([]registry.Route, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		routes = append(routes, registry.RouteFromConfig(r))
	}
	reg, err := registry.Build(ctx, routes, o.discoverer)
	if err != nil {
		return nil, err
	}
	for _, route := range reg.Routes() {
		if len(reg.Vehicles(route.ID)) == 0 {
			slog.Warn("route has no vehicles and will receive no records", "route_id", route.ID)
		}
	}

	graph := &Graph{
		registry:   reg,
		stateStore: statestore.NewStateStore(cfg.StateStore),
		sinks:      make(map[config.ID]sinks.Sink, len(cfg.Routes)),
		outlet:     o.outlet,
	}
	for _, r := range cfg.Routes {
		sink, err := sinks.NewSink(r.ID, r.Sink)
		if err != nil {
			graph.Close()
			return nil, fmt.Errorf("route %q: %w", r.ID, err)
		}
		if err := sink.Init(ctx); err != nil {
			graph.Close()
			return nil, fmt.Errorf("route %q: init %s sink: %w", r.ID, r.Sink.Type, err)
		}
		graph.sinks[r.ID] = sink
	}

	segmenter := journeys.NewSegmenter(graph.stateStore, cfg.Journeys)
	graph.pipeline, err = pipelines.NewPipeline(
		o.source,
		reg,
		processors.NewDispatcher(reg, segmenter),
		graph.sinks,
		pipelines.WithMetrics(o.metrics),
		pipelines.WithOutlet(o.outlet),
		pipelines.WithRetryPolicy(pipelines.NewRetryPolicy(cfg.Poller.Interval)),
	)
	if err != nil {
		graph.Close()
		return nil, err
	}
	return graph, nil
}

func (g *Graph) Registry() *registry.Registry {
	return g.registry
}

func (g *Graph) Pipeline() *pipelines.Pipeline {
	return g.pipeline
}

func (g *Graph) Out() chan any {
	return g.outlet
}

// Run blocks until ctx is done.
func (g *Graph) Run(ctx context.Context) error {
	return g.pipeline.Run(ctx)
}

func (g *Graph) Close() error {
	var errs []error
	for id, sink := range g.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %q: %w", id, err))
		}
	}
	if err := g.stateStore.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
