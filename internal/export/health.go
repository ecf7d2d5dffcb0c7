// Package export hosts the Prometheus health metrics server.
package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for ingestion health.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Ingestion loop
	TicksTotal     prometheus.Counter
	TickErrors     prometheus.Counter
	TicksSkipped   prometheus.Counter
	TickDuration   prometheus.Histogram
	CurrentBucket  prometheus.Gauge
	EditsPerMinute prometheus.Gauge

	// Feed
	FetchErrors   prometheus.Counter
	FetchDuration prometheus.Histogram
	EventsSeen    prometheus.Counter
	EventsNew     prometheus.Counter

	// Fan-out
	SubscribersConnected prometheus.Gauge
	PublishErrors        prometheus.Counter
	ArchiveErrors        prometheus.Counter

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(log logrus.FieldLogger, cfg HealthConfig) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "changepulse",
			Name:      "ticks_total",
			Help:      "Total ingestion ticks executed.",
		}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "changepulse",
			Name:      "tick_errors_total",
			Help:      "Total ingestion ticks that failed.",
		}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "changepulse",
			Name:      "ticks_skipped_total",
			Help:      "Total ticks skipped because the previous tick was still running.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "changepulse",
			Name:      "tick_duration_seconds",
			Help:      "Time to process a single ingestion tick.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}),
		CurrentBucket: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "changepulse",
			Name:      "current_bucket",
			Help:      "Current hourly bucket index.",
		}),
		EditsPerMinute: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "changepulse",
			Name:      "edits_per_minute",
			Help:      "Smoothed edits-per-minute estimate.",
		}),

		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "changepulse",
			Name:      "fetch_errors_total",
			Help:      "Total changeset feed fetch failures.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "changepulse",
			Name:      "fetch_duration_seconds",
			Help:      "Time to fetch the changeset feed.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		EventsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "changepulse",
			Name:      "events_seen_total",
			Help:      "Total changesets seen in the feed, including repeats.",
		}),
		EventsNew: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "changepulse",
			Name:      "events_new_total",
			Help:      "Total changesets counted for the first time.",
		}),

		SubscribersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "changepulse",
			Name:      "subscribers_connected",
			Help:      "Number of connected websocket subscribers.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "changepulse",
			Name:      "publish_errors_total",
			Help:      "Total snapshot publish failures.",
		}),
		ArchiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "changepulse",
			Name:      "archive_errors_total",
			Help:      "Total archive sink failures.",
		}),
	}

	reg.MustRegister(
		h.TicksTotal,
		h.TickErrors,
		h.TicksSkipped,
		h.TickDuration,
		h.CurrentBucket,
		h.EditsPerMinute,
		h.FetchErrors,
		h.FetchDuration,
		h.EventsSeen,
		h.EventsNew,
		h.SubscribersConnected,
		h.PublishErrors,
		h.ArchiveErrors,
	)

	return h
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for CPU/memory profiling.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop gracefully shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
