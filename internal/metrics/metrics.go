// Package metrics exposes Prometheus metrics for the rating sync worker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cpboard"

// Run results recorded by RecordRun.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// SyncCollector holds the worker's metrics on a private registry.
// A nil *SyncCollector is valid and records nothing.
type SyncCollector struct {
	registry      *prometheus.Registry
	entriesTotal  *prometheus.CounterVec
	runsTotal     *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	lastRun       prometheus.Gauge
	breakerState  *prometheus.GaugeVec
}

// NewSyncCollector constructs the collector and registers every metric.
func NewSyncCollector() (*SyncCollector, error) {
	registry := prometheus.NewRegistry()

	entriesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "entries_total",
		Help:      "Processed tracked entries by platform and outcome.",
	}, []string{"platform", "outcome"})

	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Completed sync runs by result.",
	}, []string{"result"})

	fetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "fetch_duration_seconds",
		Help:      "Latency of upstream platform lookups.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"platform"})

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time of the last finished run.",
	})

	breakerState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per platform (0 closed, 1 half-open, 2 open).",
	}, []string{"platform"})

	for _, c := range []prometheus.Collector{
		entriesTotal, runsTotal, fetchDuration, lastRun, breakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &SyncCollector{
		registry:      registry,
		entriesTotal:  entriesTotal,
		runsTotal:     runsTotal,
		fetchDuration: fetchDuration,
		lastRun:       lastRun,
		breakerState:  breakerState,
	}, nil
}

// Registry returns the underlying registry.
func (c *SyncCollector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *SyncCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordEntry counts one processed entry.
func (c *SyncCollector) RecordEntry(platform, outcome string) {
	if c == nil {
		return
	}

	c.entriesTotal.WithLabelValues(platform, outcome).Inc()
}

// ObserveFetch records the latency of one upstream lookup.
func (c *SyncCollector) ObserveFetch(platform string, duration time.Duration) {
	if c == nil {
		return
	}

	c.fetchDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

// RecordRun counts a finished run and stamps its completion time.
func (c *SyncCollector) RecordRun(result string, finishedAt time.Time) {
	if c == nil {
		return
	}

	c.runsTotal.WithLabelValues(result).Inc()
	c.lastRun.Set(float64(finishedAt.Unix()))
}

// SetBreakerState publishes a platform's circuit breaker state.
func (c *SyncCollector) SetBreakerState(platform string, state float64) {
	if c == nil {
		return
	}

	c.breakerState.WithLabelValues(platform).Set(state)
}
