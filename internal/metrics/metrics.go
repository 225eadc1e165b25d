// Package metrics records per-run counters and writes them in the
// Prometheus textfile format for node_exporter style collection.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pipectl"

// Region outcomes.
const (
	OutcomeCreated = "created"
	OutcomePlanned = "planned"
	OutcomeFailed  = "failed"
)

// Recorder holds the collectors of one invocation. A nil *Recorder is a
// valid no-op.
type Recorder struct {
	registry *prometheus.Registry

	regions      *prometheus.CounterVec
	stages       *prometheus.GaugeVec
	staleDeleted *prometheus.CounterVec
	staleFailed  *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	lastRun      *prometheus.GaugeVec
}

// New registers the collectors on a private registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		regions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regions_total",
			Help:      "Regions processed, by outcome and failure kind.",
		}, []string{"app", "outcome", "kind"}),
		stages: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_stages",
			Help:      "Stages in the assembled pipeline.",
		}, []string{"app", "region"}),
		staleDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_pipelines_deleted_total",
			Help:      "Previously generated pipelines deleted.",
		}, []string{"app"}),
		staleFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_pipeline_delete_failures_total",
			Help:      "Deletes of previously generated pipelines that failed.",
		}, []string{"app"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "environments_skipped_total",
			Help:      "Environments left out of a region for lack of subnets.",
		}, []string{"app", "region"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "region_duration_seconds",
			Help:      "Wall time spent on one region.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"app"}),
		lastRun: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}, []string{"app"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Region records the end of one region's work.
func (r *Recorder) Region(app, region, outcome, kind string, stages int, took time.Duration) {
	if r == nil {
		return
	}
	r.regions.WithLabelValues(app, outcome, kind).Inc()
	if outcome != OutcomeFailed {
		r.stages.WithLabelValues(app, region).Set(float64(stages))
	}
	r.duration.WithLabelValues(app).Observe(took.Seconds())
}

// Stale records the result of a cleanup pass.
func (r *Recorder) Stale(app string, deleted, failed int) {
	if r == nil {
		return
	}
	r.staleDeleted.WithLabelValues(app).Add(float64(deleted))
	r.staleFailed.WithLabelValues(app).Add(float64(failed))
}

// Skipped records environments without subnet context in region.
func (r *Recorder) Skipped(app, region string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.skipped.WithLabelValues(app, region).Add(float64(n))
}

// Finished stamps the run completion time.
func (r *Recorder) Finished(app string, at time.Time) {
	if r == nil {
		return
	}
	r.lastRun.WithLabelValues(app).Set(float64(at.Unix()))
}

// WriteTextfile atomically writes every collected sample to path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errors.Wrapf(err, "write metrics to %s", path)
	}
	return nil
}
