package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Polls          prometheus.Counter
	CycleFailures  *prometheus.CounterVec // stage label: poll|decode|route|persist|state
	EventsReceived prometheus.Counter
	EventsDropped  *prometheus.CounterVec // reason label
	Records        *prometheus.CounterVec // route_id label
	CycleDuration  prometheus.Histogram
	Cursor         prometheus.Gauge
	OutletDropped  prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainpos_polls_total",
			Help: "Total poll cycles attempted.",
		}),
		CycleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trainpos_cycle_failures_total",
			Help: "Failed poll cycles by stage.",
		}, []string{"stage"}),
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainpos_events_received_total",
			Help: "Position entries received in steady state.",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trainpos_events_dropped_total",
			Help: "Position entries that produced no record, by reason.",
		}, []string{"reason"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trainpos_records_committed_total",
			Help: "Records committed per route.",
		}, []string{"route_id"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trainpos_cycle_duration_seconds",
			Help:    "Duration of a poll cycle including commits.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		Cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainpos_change_id",
			Help: "Current change cursor.",
		}),
		OutletDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainpos_outlet_dropped_total",
			Help: "Committed records not delivered to the outlet because it was full.",
		}),
	}

	reg.MustRegister(
		c.Polls, c.CycleFailures,
		c.EventsReceived, c.EventsDropped,
		c.Records, c.CycleDuration, c.Cursor, c.OutletDropped,
	)
	return c
}

func (c *Collector) PollInc() {
	c.Polls.Inc()
}

func (c *Collector) CycleFailed(stage string) {
	c.CycleFailures.WithLabelValues(stage).Inc()
}

func (c *Collector) EventsReceivedAdd(n int) {
	c.EventsReceived.Add(float64(n))
}

func (c *Collector) EventDropped(reason string) {
	c.EventsDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordsAdd(routeID string, n int) {
	c.Records.WithLabelValues(routeID).Add(float64(n))
}

func (c *Collector) CycleObserve(d time.Duration) {
	c.CycleDuration.Observe(d.Seconds())
}

func (c *Collector) CursorSet(changeID int64) {
	c.Cursor.Set(float64(changeID))
}

func (c *Collector) OutletDroppedInc() {
	c.OutletDropped.Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
	slog.Info("metrics listening", "addr", addr)
	return srv
}
