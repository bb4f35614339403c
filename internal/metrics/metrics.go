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

	ActiveBuses prometheus.Gauge

	RunsStarted      prometheus.Counter
	RunsFinished     prometheus.Counter
	WaypointsReached prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	PositionWrites    prometheus.Counter
	PositionWriteErrs prometheus.Counter

	AlertPolls    *prometheus.CounterVec // result label: ok|error
	APIRequests   *prometheus.CounterVec // method, status class
	HTTPRequests  *prometheus.CounterVec // route pattern, status code
	SessionLogins *prometheus.CounterVec // result label: ok|error

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	SpeedMultiplier prometheus.Gauge
	TickInterval    prometheus.Gauge // seconds
	StepMeters      prometheus.Gauge
	DwellSeconds    prometheus.Gauge
}

func NewCollector(speedMultiplier float64, tickInterval time.Duration, stepMeters float64, dwell time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_buses",
			Help: "Number of currently running bus simulations.",
		}),
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_runs_started_total",
			Help: "Total bus runs started, restarts and return trips included.",
		}),
		RunsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_runs_finished_total",
			Help: "Total bus runs that ended.",
		}),
		WaypointsReached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_waypoints_reached_total",
			Help: "Total waypoints reached by simulated buses.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PositionWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_position_writes_total",
			Help: "Positions written to the history table.",
		}),
		PositionWriteErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_position_write_errors_total",
			Help: "Failed position history writes.",
		}),
		AlertPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_alert_polls_total",
			Help: "Alert and message polls by result.",
		}, []string{"result"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_api_requests_total",
			Help: "Requests made to the external REST API.",
		}, []string{"method", "class"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_http_requests_total",
			Help: "Requests served by the dashboard API.",
		}, []string{"route", "code"}),
		SessionLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_session_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_tick_duration_seconds",
			Help:    "Duration of simulation tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_speed_multiplier",
			Help: "Current speed multiplier.",
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_tick_interval_seconds",
			Help: "Simulation tick interval in seconds.",
		}),
		StepMeters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_step_meters",
			Help: "Distance advanced per tick in meters.",
		}),
		DwellSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_dwell_seconds",
			Help: "Dwell time at intermediate waypoints.",
		}),
	}

	reg.MustRegister(
		c.ActiveBuses,
		c.RunsStarted, c.RunsFinished, c.WaypointsReached,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.PositionWrites, c.PositionWriteErrs,
		c.AlertPolls, c.APIRequests, c.HTTPRequests, c.SessionLogins,
		c.TickDuration, c.PublishDuration,
		c.SpeedMultiplier, c.TickInterval, c.StepMeters, c.DwellSeconds,
	)

	c.SpeedMultiplier.Set(speedMultiplier)
	c.TickInterval.Set(tickInterval.Seconds())
	c.StepMeters.Set(stepMeters)
	c.DwellSeconds.Set(dwell.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics listening", slog.String("addr", addr))
	return srv
}

// PublisherMetrics adapts the collector to publisher.PublisherMetrics.
func (c *Collector) PublisherMetrics() *PubMetrics {
	if c == nil {
		return nil
	}
	return &PubMetrics{c: c}
}

type PubMetrics struct{ c *Collector }

func (p *PubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *PubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *PubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *PubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
