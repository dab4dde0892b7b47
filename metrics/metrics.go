// Package metrics collects and exposes Prometheus metrics for the worker
// daemon. Counters follow the job lifecycle (polled, claimed, processed,
// failed), the histogram tracks how long pipeline runs take, and gauges
// mirror the queue depth seen at the last poll.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the daemon's Prometheus metrics. Each Collector carries its
// own registry, so sibling workers on one host and parallel tests never
// conflict over metric registration.
type Collector struct {
	registry *prometheus.Registry

	jobsProcessed prometheus.Counter
	jobsFailed    prometheus.Counter
	polls         prometheus.Counter
	claims        prometheus.Counter
	claimsLost    prometheus.Counter

	jobDuration prometheus.Histogram

	jobsActive prometheus.Gauge
	jobsQueued prometheus.Gauge
}

// NewCollector creates a collector with all metrics registered
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowd_jobs_processed_total",
			Help: "Total number of jobs completed successfully",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowd_jobs_failed_total",
			Help: "Total number of jobs that ended in failure",
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowd_polls_total",
			Help: "Total number of queue poll cycles",
		}),
		claims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowd_claims_total",
			Help: "Total number of job claim attempts",
		}),
		claimsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowd_claims_lost_total",
			Help: "Total number of claims lost to a sibling worker",
		}),
		// Pipeline runs range from seconds to most of the 90 minute
		// ceiling, so the buckets stretch far beyond the defaults
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowd_job_duration_seconds",
			Help:    "Wall-clock duration of pipeline executions in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 5400},
		}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowd_jobs_active",
			Help: "Jobs currently claimed by this worker's project",
		}),
		jobsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowd_jobs_queued",
			Help: "Queued jobs seen at the last poll",
		}),
	}

	c.registry.MustRegister(
		c.jobsProcessed,
		c.jobsFailed,
		c.polls,
		c.claims,
		c.claimsLost,
		c.jobDuration,
		c.jobsActive,
		c.jobsQueued,
	)
	return c
}

// RecordPoll counts one scheduler poll cycle
func (c *Collector) RecordPoll() {
	c.polls.Inc()
}

// RecordClaim counts a claim attempt and whether it won
func (c *Collector) RecordClaim(won bool) {
	c.claims.Inc()
	if !won {
		c.claimsLost.Inc()
	}
}

// RecordCompleted counts a successful job and observes its duration
func (c *Collector) RecordCompleted(seconds float64) {
	c.jobsProcessed.Inc()
	c.jobDuration.Observe(seconds)
}

// RecordFailed counts a failed job
func (c *Collector) RecordFailed() {
	c.jobsFailed.Inc()
}

// UpdateQueueStats refreshes the queue depth gauges
func (c *Collector) UpdateQueueStats(queued, active int) {
	c.jobsQueued.Set(float64(queued))
	c.jobsActive.Set(float64(active))
}

// Handler returns an HTTP handler serving this collector's metrics in
// Prometheus text format. The daemon mounts it at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
