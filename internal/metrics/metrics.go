// Package metrics exposes Prometheus counters for the admission and worker
// paths. The collector carries its own registry so tests can build as many
// as they like without duplicate-registration panics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles every metric the service publishes.
type Collector struct {
	registry *prometheus.Registry

	JobsEnqueued  prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsRetried   prometheus.Counter
	JobsReaped    prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	AdmissionsDenied *prometheus.CounterVec

	QueueDepth prometheus.Gauge
	ActiveJobs prometheus.Gauge

	JobDuration prometheus.Histogram
}

// NewCollector builds and registers all metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		JobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "insightgraph", Name: "jobs_enqueued_total",
			Help: "Jobs accepted onto the queue.",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "insightgraph", Name: "jobs_completed_total",
			Help: "Jobs that reached completed.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "insightgraph", Name: "jobs_failed_total",
			Help: "Jobs that reached failed.",
		}),
		JobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "insightgraph", Name: "jobs_retried_total",
			Help: "Extraction attempts retried after a transient failure.",
		}),
		JobsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "insightgraph", Name: "jobs_reaped_total",
			Help: "Stalled processing jobs recovered by the reaper.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "insightgraph", Name: "cache_hits_total",
			Help: "Result cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "insightgraph", Name: "cache_misses_total",
			Help: "Result cache misses.",
		}),
		AdmissionsDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightgraph", Name: "admissions_denied_total",
			Help: "Requests denied by the rate limiter, by window scope.",
		}, []string{"scope"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "insightgraph", Name: "queue_depth",
			Help: "Jobs waiting in the queue.",
		}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "insightgraph", Name: "active_jobs",
			Help: "Jobs currently executing.",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "insightgraph", Name: "job_duration_seconds",
			Help:    "Wall time from pop to terminal state.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		c.JobsEnqueued, c.JobsCompleted, c.JobsFailed, c.JobsRetried, c.JobsReaped,
		c.CacheHits, c.CacheMisses, c.AdmissionsDenied,
		c.QueueDepth, c.ActiveJobs, c.JobDuration,
	)
	return c
}

// Handler serves this collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
