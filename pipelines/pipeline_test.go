package pipelines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/config"
	"github.com/fjlanasa/trainpos/geo"
	"github.com/fjlanasa/trainpos/processors"
	"github.com/fjlanasa/trainpos/processors/journeys"
	"github.com/fjlanasa/trainpos/query"
	"github.com/fjlanasa/trainpos/registry"
	"github.com/fjlanasa/trainpos/sinks"
	"github.com/fjlanasa/trainpos/sources"
	"github.com/fjlanasa/trainpos/statestore"
)

type pollResult struct {
	resp  *sources.Response
	err   error
	panic bool
}

// mockSource replays scripted poll results, then empty pages at the last
// cursor it was given.
type mockSource struct {
	mu      sync.Mutex
	results []pollResult
	calls   []int64
}

func (s *mockSource) push(results ...pollResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, results...)
}

func (s *mockSource) Poll(_ context.Context, changeID int64, _ query.Node) (*sources.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, changeID)
	if len(s.results) == 0 {
		return &sources.Response{ChangeID: changeID}, nil
	}
	next := s.results[0]
	s.results = s.results[1:]
	if next.panic {
		panic("source exploded")
	}
	return next.resp, next.err
}

func (s *mockSource) cursors() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.calls...)
}

type mockSink struct {
	mu      sync.Mutex
	commits [][]events.Record
	err     error
}

func (s *mockSink) Init(context.Context) error { return nil }
func (s *mockSink) Close() error               { return nil }

func (s *mockSink) Commit(_ context.Context, records []events.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.commits = append(s.commits, records)
	return nil
}

func (s *mockSink) records() []events.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Record
	for _, c := range s.commits {
		out = append(out, c...)
	}
	return out
}

func (s *mockSink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type mockMetrics struct {
	nopMetrics
	mu       sync.Mutex
	dropped  map[string]int
	failures map[string]int
	outlet   int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{dropped: map[string]int{}, failures: map[string]int{}}
}

func (m *mockMetrics) EventDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

func (m *mockMetrics) CycleFailed(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[stage]++
}

func (m *mockMetrics) OutletDroppedInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outlet++
}

var base = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func position(vehicle string, x, lon, lat float64, offset time.Duration) json.RawMessage {
	measured := base.Add(offset).Format(time.RFC3339Nano)
	return json.RawMessage(fmt.Sprintf(
		`{"Train":{"OperationalTrainNumber":%q},"Position":{"SWEREF99TM":"POINT (%g 6580000)","WGS84":"POINT (%g %g)"},"TimeStamp":%q,"ModifiedTime":%q,"Speed":72}`,
		vehicle, x, lon, lat, measured, measured,
	))
}

type fixture struct {
	source   *mockSource
	sinks    map[config.ID]*mockSink
	store    *statestore.InMemoryStateStore
	metrics  *mockMetrics
	pipeline *Pipeline
}

// newFixture subscribes route A to vehicles 1 and 2 and route B, bounded
// by a rectangle, to vehicles 2 and 3.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	rect := geo.NewRectangle(geo.Point{X: 17.5, Y: 59.0}, geo.Point{X: 18.0, Y: 59.5})
	reg, err := registry.New([]registry.Route{
		{ID: "A", Stations: []string{"Cst", "U"}},
		{ID: "B", Stations: []string{"Cst", "Sod"}, Rectangle: &rect},
	}, map[config.ID][]string{"A": {"1", "2"}, "B": {"2", "3"}})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}

	f := &fixture{
		source:  &mockSource{},
		sinks:   map[config.ID]*mockSink{"A": {}, "B": {}},
		store:   statestore.NewInMemoryStateStore(),
		metrics: newMockMetrics(),
	}
	segmenter := journeys.NewSegmenter(f.store, config.JourneyConfig{IdleThreshold: time.Hour})
	bySink := map[config.ID]sinks.Sink{"A": f.sinks["A"], "B": f.sinks["B"]}
	opts = append([]Option{WithMetrics(f.metrics)}, opts...)
	f.pipeline, err = NewPipeline(f.source, reg, processors.NewDispatcher(reg, segmenter), bySink, opts...)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return f
}

// baseline runs the first cycle so the pipeline is steady at changeID.
func (f *fixture) baseline(t *testing.T, changeID int64) {
	t.Helper()
	f.source.push(pollResult{resp: &sources.Response{
		ChangeID:  changeID,
		Positions: []json.RawMessage{position("1", 1, 17.0, 59.1, 0)},
	}})
	if err := f.pipeline.RunCycle(context.Background()); err != nil {
		t.Fatalf("baseline RunCycle() error = %v", err)
	}
}

func steadyPage() []json.RawMessage {
	return []json.RawMessage{
		position("1", 1, 17.0, 59.1, 0),
		position("1", 2, 17.0, 59.1, time.Second),
		position("1", 3, 17.0, 59.1, 2*time.Second),
		position("2", 1, 17.8, 59.2, 0),
		position("2", 2, 17.8, 59.2, time.Second),
		position("3", 1, 17.9, 59.3, 0),
		position("3", 2, 19.0, 59.3, time.Second),
		position("1", 3, 17.0, 59.1, 2*time.Second),
		position("9", 1, 17.8, 59.2, 0),
		json.RawMessage(`{"Train":`),
	}
}

func TestBaselineDiscardsSnapshot(t *testing.T) {
	f := newFixture(t)
	if f.pipeline.State() != Baseline {
		t.Fatalf("got state %v, want BASELINE", f.pipeline.State())
	}

	f.baseline(t, 100)

	if f.pipeline.State() != Steady {
		t.Errorf("got state %v, want STEADY", f.pipeline.State())
	}
	if f.pipeline.Cursor() != 100 {
		t.Errorf("got cursor %d, want 100", f.pipeline.Cursor())
	}
	if got := f.source.cursors(); len(got) != 1 || got[0] != 0 {
		t.Errorf("got polls %v, want [0]", got)
	}
	if n := len(f.sinks["A"].records()) + len(f.sinks["B"].records()); n != 0 {
		t.Errorf("baseline persisted %d records", n)
	}
	if f.store.Len() != 0 {
		t.Errorf("baseline touched journey state")
	}
}

func TestSteadyCycleRoutesRecords(t *testing.T) {
	f := newFixture(t)
	f.baseline(t, 100)

	f.source.push(pollResult{resp: &sources.Response{ChangeID: 101, Positions: steadyPage()}})
	if err := f.pipeline.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if got := len(f.sinks["A"].records()); got != 5 {
		t.Errorf("route A got %d records, want 5", got)
	}
	if got := len(f.sinks["B"].records()); got != 3 {
		t.Errorf("route B got %d records, want 3", got)
	}
	for id, sink := range f.sinks {
		if len(sink.commits) != 1 {
			t.Errorf("route %s got %d commits, want 1", id, len(sink.commits))
		}
	}
	if f.pipeline.Cursor() != 101 {
		t.Errorf("got cursor %d, want 101", f.pipeline.Cursor())
	}

	wantDrops := map[string]int{"unsubscribed": 1, "duplicate": 1, "outside_rectangle": 1, "decode": 1}
	for reason, want := range wantDrops {
		if got := f.metrics.dropped[reason]; got != want {
			t.Errorf("dropped[%s] = %d, want %d", reason, got, want)
		}
	}

	if got := f.source.cursors(); got[len(got)-1] != 100 {
		t.Errorf("steady poll used cursor %d, want 100", got[len(got)-1])
	}
}

func TestUndecodableEntryLogsRawPayload(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })

	f := newFixture(t)
	f.baseline(t, 100)

	bad := json.RawMessage(`{"Train":{"OperationalTrainNumber":"4711"},"Position":{"SWEREF99TM":"NOT-A-POINT","WGS84":"POINT (18 59.3)"},"TimeStamp":"2024-03-01T08:00:00Z","ModifiedTime":"2024-03-01T08:00:00Z"}`)
	f.source.push(pollResult{resp: &sources.Response{ChangeID: 101, Positions: []json.RawMessage{bad}}})
	if err := f.pipeline.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "skipping undecodable position") {
		t.Fatalf("no decode warning logged:\n%s", out)
	}
	for _, want := range []string{"OperationalTrainNumber", "4711", "NOT-A-POINT"} {
		if !strings.Contains(out, want) {
			t.Errorf("log does not carry %q:\n%s", want, out)
		}
	}
	if f.metrics.dropped["decode"] != 1 {
		t.Errorf("got %d decode drops, want 1", f.metrics.dropped["decode"])
	}
	if f.pipeline.Cursor() != 101 {
		t.Errorf("got cursor %d, want 101", f.pipeline.Cursor())
	}
}

func TestEndToEndSingleVehicle(t *testing.T) {
	rect := geo.NewRectangle(geo.Point{X: 17.5, Y: 59.0}, geo.Point{X: 18.0, Y: 59.5})
	reg, err := registry.New([]registry.Route{
		{ID: "A", Stations: []string{"X", "Y"}},
		{ID: "B", Stations: []string{"Y", "Z"}, Rectangle: &rect},
	}, map[config.ID][]string{"A": {"123"}, "B": {"123"}})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	a, b := &mockSink{}, &mockSink{}
	store := statestore.NewInMemoryStateStore()
	segmenter := journeys.NewSegmenter(store, config.JourneyConfig{IdleThreshold: time.Hour})
	source := &mockSource{}
	p, err := NewPipeline(source, reg, processors.NewDispatcher(reg, segmenter), map[config.ID]sinks.Sink{"A": a, "B": b})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	source.push(
		pollResult{resp: &sources.Response{ChangeID: 1}},
		pollResult{resp: &sources.Response{ChangeID: 2, Positions: []json.RawMessage{
			position("123", 1, 17.6, 59.1, 0),
			position("123", 2, 17.7, 59.2, 10*time.Minute),
			position("123", 3, 17.9, 59.4, 20*time.Minute),
			position("123", 4, 18.2, 59.6, 30*time.Minute),
			position("123", 5, 18.4, 59.7, 40*time.Minute),
		}}},
	)
	for i := 0; i < 2; i++ {
		if err := p.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle() #%d error = %v", i, err)
		}
	}

	if got := len(a.records()); got != 5 {
		t.Errorf("route A got %d rows, want 5", got)
	}
	if got := len(b.records()); got != 3 {
		t.Errorf("route B got %d rows, want 3", got)
	}
	for _, r := range append(a.records(), b.records()...) {
		if r.JourneyNumber != 0 {
			t.Errorf("vehicle %s got journey %d, want 0", r.VehicleID, r.JourneyNumber)
		}
	}
}

func TestFanOutSharesReceivedTime(t *testing.T) {
	f := newFixture(t)
	f.baseline(t, 100)

	f.source.push(pollResult{resp: &sources.Response{
		ChangeID:  101,
		Positions: []json.RawMessage{position("2", 1, 17.8, 59.2, 0)},
	}})
	if err := f.pipeline.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	a, b := f.sinks["A"].records(), f.sinks["B"].records()
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("got %d and %d records, want 1 and 1", len(a), len(b))
	}
	if !a[0].ReceivedTime.Equal(b[0].ReceivedTime) {
		t.Errorf("received times differ: %v vs %v", a[0].ReceivedTime, b[0].ReceivedTime)
	}
	if a[0].JourneyNumber != b[0].JourneyNumber {
		t.Errorf("journeys differ: %d vs %d", a[0].JourneyNumber, b[0].JourneyNumber)
	}
	if a[0].RouteID != "A" || b[0].RouteID != "B" {
		t.Errorf("got routes %q and %q", a[0].RouteID, b[0].RouteID)
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.baseline(t, 100)

	page := &sources.Response{ChangeID: 101, Positions: []json.RawMessage{
		position("1", 1, 17.0, 59.1, 0),
		position("2", 1, 17.8, 59.2, 0),
		position("3", 1, 17.9, 59.3, 0),
	}}
	f.source.push(pollResult{resp: page}, pollResult{resp: page})
	for i := 0; i < 2; i++ {
		if err := f.pipeline.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle() #%d error = %v", i, err)
		}
	}

	if got := len(f.sinks["A"].records()); got != 2 {
		t.Errorf("route A got %d records after replay, want 2", got)
	}
	if got := len(f.sinks["B"].records()); got != 2 {
		t.Errorf("route B got %d records after replay, want 2", got)
	}
	if f.metrics.dropped["duplicate"] != 3 {
		t.Errorf("got %d duplicates, want 3", f.metrics.dropped["duplicate"])
	}
	if f.pipeline.Cursor() != 101 {
		t.Errorf("got cursor %d, want 101", f.pipeline.Cursor())
	}
}

func TestPollTimeoutKeepsCursor(t *testing.T) {
	f := newFixture(t)
	f.baseline(t, 100)

	f.source.push(pollResult{err: fmt.Errorf("%w after 10s", sources.ErrTimeout)})
	err := f.pipeline.RunCycle(context.Background())

	var cerr *CycleError
	if !errors.As(err, &cerr) || cerr.Stage != StagePoll {
		t.Fatalf("got error %v, want poll stage CycleError", err)
	}
	if !errors.Is(err, sources.ErrTimeout) {
		t.Errorf("error %v does not wrap ErrTimeout", err)
	}
	if f.pipeline.Cursor() != 100 {
		t.Errorf("got cursor %d, want 100", f.pipeline.Cursor())
	}
	if n := len(f.sinks["A"].records()) + len(f.sinks["B"].records()); n != 0 {
		t.Errorf("timed out cycle wrote %d records", n)
	}
	if f.metrics.failures["poll"] != 1 {
		t.Errorf("got %d poll failures, want 1", f.metrics.failures["poll"])
	}

	if err := f.pipeline.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if got := f.source.cursors(); got[len(got)-1] != 100 {
		t.Errorf("retry polled with cursor %d, want 100", got[len(got)-1])
	}
}

func TestPersistFailureKeepsStateAndCursor(t *testing.T) {
	f := newFixture(t)
	f.baseline(t, 100)
	f.sinks["B"].fail(errors.New("disk full"))

	page := &sources.Response{ChangeID: 101, Positions: steadyPage()}
	f.source.push(pollResult{resp: page})
	err := f.pipeline.RunCycle(context.Background())

	var cerr *CycleError
	if !errors.As(err, &cerr) || cerr.Stage != StagePersist || cerr.Route != "B" {
		t.Fatalf("got error %v, want persist stage CycleError for route B", err)
	}
	if f.pipeline.Cursor() != 100 {
		t.Errorf("got cursor %d, want 100", f.pipeline.Cursor())
	}
	if f.store.Len() != 0 {
		t.Errorf("got %d tracked vehicles, want 0", f.store.Len())
	}

	f.sinks["B"].fail(nil)
	f.source.push(pollResult{resp: page})
	if err := f.pipeline.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if got := len(f.sinks["B"].records()); got != 3 {
		t.Errorf("route B got %d records after retry, want 3", got)
	}
	// A committed before B failed, so its rows are delivered again.
	if got := len(f.sinks["A"].records()); got != 10 {
		t.Errorf("route A got %d records after retry, want 10", got)
	}
	if f.pipeline.Cursor() != 101 {
		t.Errorf("got cursor %d, want 101", f.pipeline.Cursor())
	}
}

func TestRunCycleRecoversPanic(t *testing.T) {
	f := newFixture(t)
	f.source.push(pollResult{panic: true})

	err := f.pipeline.RunCycle(context.Background())
	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("got error %v, want CycleError", err)
	}
	if !strings.Contains(err.Error(), "source exploded") {
		t.Errorf("error %q does not carry the panic", err)
	}
	if f.pipeline.State() != Baseline {
		t.Errorf("got state %v, want BASELINE", f.pipeline.State())
	}
}

func TestOutletPublishesWithoutBlocking(t *testing.T) {
	outlet := make(chan any, 2)
	f := newFixture(t, WithOutlet(outlet))
	f.baseline(t, 100)

	f.source.push(pollResult{resp: &sources.Response{ChangeID: 101, Positions: steadyPage()}})
	if err := f.pipeline.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if len(outlet) != 2 {
		t.Errorf("got %d published records, want 2", len(outlet))
	}
	if f.metrics.outlet != 6 {
		t.Errorf("got %d outlet drops, want 6", f.metrics.outlet)
	}
	if _, ok := (<-outlet).(*events.Record); !ok {
		t.Errorf("outlet carries non-record values")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, WithRetryPolicy(NewRetryPolicy(time.Millisecond)))
	f.source.push(pollResult{resp: &sources.Response{ChangeID: 100}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := f.pipeline.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want deadline exceeded", err)
	}
	if got := len(f.source.cursors()); got < 2 {
		t.Errorf("got %d polls, want at least 2", got)
	}
	if f.pipeline.State() != Steady {
		t.Errorf("got state %v, want STEADY", f.pipeline.State())
	}
}

func TestNewPipelineErrors(t *testing.T) {
	segmenter := journeys.NewSegmenter(statestore.NewInMemoryStateStore(), config.JourneyConfig{})

	empty, err := registry.New([]registry.Route{{ID: "A", Stations: []string{"Cst"}}}, map[config.ID][]string{})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	_, err = NewPipeline(&mockSource{}, empty, processors.NewDispatcher(empty, segmenter), map[config.ID]sinks.Sink{"A": &mockSink{}})
	if !errors.Is(err, query.ErrEmptySubscription) {
		t.Errorf("got error %v, want ErrEmptySubscription", err)
	}

	reg, err := registry.New([]registry.Route{{ID: "A", Stations: []string{"Cst"}}}, map[config.ID][]string{"A": {"1"}})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	if _, err := NewPipeline(&mockSource{}, reg, processors.NewDispatcher(reg, segmenter), nil); err == nil {
		t.Error("expected error for route without sink")
	}
}

func TestCursorAdvance(t *testing.T) {
	var c Cursor
	if c.Value() != 0 {
		t.Fatalf("zero cursor = %d", c.Value())
	}
	if !c.Advance(10) {
		t.Error("Advance(10) reported no change")
	}
	if c.Advance(10) {
		t.Error("Advance(10) twice reported a change")
	}
	if c.Advance(5) {
		t.Error("Advance(5) reported a change")
	}
	if c.Value() != 10 {
		t.Errorf("got %d, want 10", c.Value())
	}
}

func TestRetryPolicy(t *testing.T) {
	r := NewRetryPolicyWithBackOff(time.Second, backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Second), 1))
	if got := r.Next(nil); got != time.Second {
		t.Errorf("success wait = %v, want 1s", got)
	}
	failed := errors.New("boom")
	if got := r.Next(failed); got != 5*time.Second {
		t.Errorf("first failure wait = %v, want 5s", got)
	}
	if got := r.Next(failed); got != time.Second {
		t.Errorf("exhausted failure wait = %v, want 1s", got)
	}
}
