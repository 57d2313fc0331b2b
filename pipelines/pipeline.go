package pipelines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/config"
	"github.com/fjlanasa/trainpos/processors"
	"github.com/fjlanasa/trainpos/processors/routing"
	"github.com/fjlanasa/trainpos/query"
	"github.com/fjlanasa/trainpos/registry"
	"github.com/fjlanasa/trainpos/sinks"
	"github.com/fjlanasa/trainpos/sources"
)

const progressEvery = 100

type State int

const (
	// Baseline is waiting for the first snapshot to establish a cursor.
	Baseline State = iota
	// Steady polls for changes after the cursor.
	Steady
)

func (s State) String() string {
	if s == Baseline {
		return "BASELINE"
	}
	return "STEADY"
}

// Metrics is what the pipeline reports per cycle. *metrics.Collector
// satisfies it.
type Metrics interface {
	PollInc()
	CycleFailed(stage string)
	EventsReceivedAdd(n int)
	EventDropped(reason string)
	RecordsAdd(routeID string, n int)
	CycleObserve(d time.Duration)
	CursorSet(changeID int64)
	OutletDroppedInc()
}

type nopMetrics struct{}

func (nopMetrics) PollInc()                   {}
func (nopMetrics) CycleFailed(string)         {}
func (nopMetrics) EventsReceivedAdd(int)      {}
func (nopMetrics) EventDropped(string)        {}
func (nopMetrics) RecordsAdd(string, int)     {}
func (nopMetrics) CycleObserve(time.Duration) {}
func (nopMetrics) CursorSet(int64)            {}
func (nopMetrics) OutletDroppedInc()          {}

type Option func(*Pipeline)

func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithOutlet publishes every persisted record on out. Sends never block; a
// full outlet drops the record.
func WithOutlet(out chan any) Option {
	return func(p *Pipeline) {
		p.outlet = out
	}
}

func WithRetryPolicy(r *RetryPolicy) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.retry = r
		}
	}
}

// Pipeline runs the poll, segment, route and persist cycle against a single
// subscription filter.
type Pipeline struct {
	source     sources.Source
	filter     query.Node
	dispatcher *processors.Dispatcher
	sinks      map[config.ID]sinks.Sink

	cursor    Cursor
	state     State
	retry     *RetryPolicy
	metrics   Metrics
	outlet    chan any
	processed int
}

func NewPipeline(
	source sources.Source,
	reg *registry.Registry,
	dispatcher *processors.Dispatcher,
	sinksByRoute map[config.ID]sinks.Sink,
	opts ...Option,
) (*Pipeline, error) {
	filter, err := query.BuildFilter(reg)
	if err != nil {
		return nil, err
	}
	for _, route := range reg.Routes() {
		if _, ok := sinksByRoute[route.ID]; !ok {
			return nil, fmt.Errorf("route %q has no sink", route.ID)
		}
	}

	p := &Pipeline{
		source:     source,
		filter:     filter,
		dispatcher: dispatcher,
		sinks:      sinksByRoute,
		state:      Baseline,
		retry:      NewRetryPolicy(time.Second),
		metrics:    nopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pipeline) State() State {
	return p.state
}

func (p *Pipeline) Cursor() int64 {
	return p.cursor.Value()
}

// Run cycles until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	slog.Info("pipeline starting", "state", p.state, "cursor", p.cursor.Value())
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("pipeline stopped", "cursor", p.cursor.Value())
			return ctx.Err()
		case <-timer.C:
		}

		err := p.RunCycle(ctx)
		if err != nil && ctx.Err() != nil {
			slog.Info("pipeline stopped", "cursor", p.cursor.Value())
			return ctx.Err()
		}
		timer.Reset(p.retry.Next(err))
	}
}

// RunCycle performs one poll. On failure the cursor stays where it was and
// no journey state from the cycle is kept.
func (p *Pipeline) RunCycle(ctx context.Context) (err error) {
	start := time.Now()
	stage := StagePoll
	defer func() {
		if r := recover(); r != nil {
			err = &CycleError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
		p.metrics.CycleObserve(time.Since(start))
		if err != nil {
			var cerr *CycleError
			if errors.As(err, &cerr) {
				stage = cerr.Stage
			}
			p.metrics.CycleFailed(string(stage))
			slog.Error("cycle failed", "stage", stage, "cursor", p.cursor.Value(), "error", err)
		}
	}()

	p.metrics.PollInc()
	resp, err := p.source.Poll(ctx, p.cursor.Value(), p.filter)
	if err != nil {
		return &CycleError{Stage: StagePoll, Err: err}
	}

	if p.state == Baseline {
		p.cursor.Advance(resp.ChangeID)
		p.metrics.CursorSet(p.cursor.Value())
		p.state = Steady
		slog.Info("baseline established", "change_id", resp.ChangeID, "discarded", len(resp.Positions))
		return nil
	}

	p.metrics.EventsReceivedAdd(len(resp.Positions))
	cycle := p.dispatcher.Begin()
	defer cycle.Discard()
	batch := routing.NewBatch()

	for _, raw := range resp.Positions {
		stage = StageDecode
		event, derr := sources.DecodePosition(raw)
		if derr != nil {
			slog.Warn("skipping undecodable position", "error", derr, "raw", string(raw))
			p.metrics.EventDropped(string(processors.DropDecode))
			continue
		}

		stage = StageRoute
		reason, rerr := p.dispatcher.Dispatch(ctx, cycle, batch, event)
		if rerr != nil {
			return &CycleError{Stage: StageRoute, Err: rerr}
		}
		if reason != processors.DropNone {
			p.metrics.EventDropped(string(reason))
		}
	}

	stage = StagePersist
	for _, id := range batch.Routes() {
		records := batch.Records(id)
		if err := p.sinks[id].Commit(ctx, records); err != nil {
			return &CycleError{Stage: StagePersist, Route: id, Err: err}
		}
		p.metrics.RecordsAdd(string(id), len(records))
	}

	stage = StageState
	if err := cycle.Commit(ctx); err != nil {
		return &CycleError{Stage: StageState, Err: err}
	}

	if p.cursor.Advance(resp.ChangeID) {
		p.metrics.CursorSet(p.cursor.Value())
	}
	p.publish(batch.All())

	if len(resp.Positions) > 0 {
		p.processed++
		if p.processed%progressEvery == 0 {
			slog.Info("processed requests", "count", p.processed, "cursor", p.cursor.Value())
		}
	}
	return nil
}

func (p *Pipeline) publish(records []events.Record) {
	if p.outlet == nil {
		return
	}
	dropped := 0
	for i := range records {
		select {
		case p.outlet <- &records[i]:
		default:
			dropped++
			p.metrics.OutletDroppedInc()
		}
	}
	if dropped > 0 {
		slog.Warn("outlet full, dropped records", "dropped", dropped)
	}
}
