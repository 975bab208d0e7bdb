// Package metrics holds the Prometheus collectors for sync runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cqsync"

// Collector holds all Prometheus metrics for the application. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	Runs             *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	Pages            prometheus.Counter
	DocumentsWritten prometheus.Counter
	RecordsSkipped   *prometheus.CounterVec
	Busy             prometheus.Counter
	LastSuccess      prometheus.Gauge
}

// New creates a Collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Wall time of sync runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		Pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_pages_fetched_total",
			Help:      "Pages fetched from the remote library.",
		}),
		DocumentsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_written_total",
			Help:      "Documents materialized into the vault.",
		}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Records not materialized, by reason.",
		}, []string{"reason"}),
		Busy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_busy_total",
			Help:      "Triggers rejected because a run was in flight.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_success_timestamp_seconds",
			Help:      "Unix time of the last completed run.",
		}),
	}
	c.registry.MustRegister(
		c.Runs,
		c.RunDuration,
		c.Pages,
		c.DocumentsWritten,
		c.RecordsSkipped,
		c.Busy,
		c.LastSuccess,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveRun records a finished run.
func (c *Collector) ObserveRun(outcome string, d time.Duration, at time.Time) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(outcome).Inc()
	c.RunDuration.Observe(d.Seconds())
	if outcome == "completed" {
		c.LastSuccess.Set(float64(at.Unix()))
	}
}

// PageFetched counts one fetched page.
func (c *Collector) PageFetched() {
	if c == nil {
		return
	}
	c.Pages.Inc()
}

// DocumentWritten counts one materialized document.
func (c *Collector) DocumentWritten() {
	if c == nil {
		return
	}
	c.DocumentsWritten.Inc()
}

// RecordSkipped counts a record that was not materialized.
func (c *Collector) RecordSkipped(reason string) {
	if c == nil {
		return
	}
	c.RecordsSkipped.WithLabelValues(reason).Inc()
}

// BusyRejected counts a trigger rejected by the single-flight guard.
func (c *Collector) BusyRejected() {
	if c == nil {
		return
	}
	c.Busy.Inc()
}
