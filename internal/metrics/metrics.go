// Package metrics collects counters of one processing run and exposes
// them in the Prometheus text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry, so independent runs (and parallel
// tests) never collide on metric registration.
type Collector struct {
	registry *prometheus.Registry

	jobsDispatched prometheus.Counter
	jobsCompleted  prometheus.Counter
	jobsFailed     prometheus.Counter
	jobsSkipped    prometheus.Counter

	jobsRunning    prometheus.Gauge
	jobsRunningMax prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icprocess_jobs_dispatched_total",
			Help: "Total number of jobs started as child processes",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icprocess_jobs_completed_total",
			Help: "Total number of jobs reaped with exit code zero",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icprocess_jobs_failed_total",
			Help: "Total number of jobs reaped with a non-zero exit code",
		}),
		jobsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icprocess_jobs_skipped_total",
			Help: "Total number of jobs skipped as not executable",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "icprocess_jobs_running",
			Help: "Current number of running child processes",
		}),
		jobsRunningMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "icprocess_jobs_running_max",
			Help: "High-water mark of concurrently running child processes",
		}),
	}

	c.registry.MustRegister(
		c.jobsDispatched,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobsSkipped,
		c.jobsRunning,
		c.jobsRunningMax,
	)
	return c
}

func (c *Collector) RecordDispatch() {
	c.jobsDispatched.Inc()
}

func (c *Collector) RecordReap(exitCode int) {
	if exitCode == 0 {
		c.jobsCompleted.Inc()
	} else {
		c.jobsFailed.Inc()
	}
}

func (c *Collector) RecordSkip() {
	c.jobsSkipped.Inc()
}

func (c *Collector) SetRunning(n int) {
	c.jobsRunning.Set(float64(n))
}

func (c *Collector) SetRunningMax(n int) {
	c.jobsRunningMax.Set(float64(n))
}

// Handler serves the collected metrics, typically mounted at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
