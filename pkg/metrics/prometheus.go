package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	registry      *prometheus.Registry
	rowsFetched   *prometheus.CounterVec
	revisions     *prometheus.CounterVec
	seriesOutcome *prometheus.CounterVec
	retries       *prometheus.CounterVec
	composites    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	lastRun       prometheus.Gauge
}

// New creates a recorder on its own registry (plus Go/process collectors).
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the engine metrics on reg.
func NewWithRegistry(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		rowsFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lighthouse_rows_fetched_total",
				Help: "Observations returned by source adapters",
			},
			[]string{"provider", "series"},
		),
		revisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lighthouse_revisions_total",
				Help: "Stored observations overwritten by a revised value",
			},
			[]string{"series"},
		),
		seriesOutcome: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lighthouse_series_outcomes_total",
				Help: "Per-series fetch outcomes by status and error kind",
			},
			[]string{"provider", "status", "kind"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lighthouse_fetch_retries_total",
				Help: "Retried fetch attempts after transient failures",
			},
			[]string{"provider"},
		),
		composites: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lighthouse_composites_total",
				Help: "Composite materializations by status",
			},
			[]string{"index", "status"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lighthouse_phase_duration_seconds",
				Help:    "Duration of engine phases in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"phase"},
		),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "lighthouse_last_run_timestamp_seconds",
			Help: "Unix time of the last finished run",
		}),
	}
}

// Registry exposes the registry for /metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RecordFetch(provider, seriesID string, rows int) {
	r.rowsFetched.WithLabelValues(provider, seriesID).Add(float64(rows))
}

func (r *Recorder) RecordRevisions(seriesID string, n int) {
	if n > 0 {
		r.revisions.WithLabelValues(seriesID).Add(float64(n))
	}
}

func (r *Recorder) RecordSeriesOutcome(provider, status, kind string) {
	r.seriesOutcome.WithLabelValues(provider, status, kind).Inc()
}

func (r *Recorder) RecordRetry(provider string) {
	r.retries.WithLabelValues(provider).Inc()
}

func (r *Recorder) RecordComposite(indexID, status string) {
	r.composites.WithLabelValues(indexID, status).Inc()
}

// RecordLatency records phase latency in seconds.
func (r *Recorder) RecordLatency(phase string, seconds float64) {
	r.latency.WithLabelValues(phase).Observe(seconds)
}

func (r *Recorder) RecordRunFinished(unixSeconds float64) {
	r.lastRun.Set(unixSeconds)
}

// Push sends every registered metric to a Prometheus Pushgateway. Batch runs
// terminate before a scrape could happen, so this is how they report.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
