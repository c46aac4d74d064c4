package plugin

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Source outcomes recorded by the loader.
const (
	OutcomeUnavailable = "unavailable"
	OutcomeEmpty       = "empty"
	OutcomeExecuted    = "executed"
	OutcomeFailed      = "failed"
)

// Metrics groups the pipeline's prometheus collectors.
type Metrics struct {
	runs       *prometheus.CounterVec
	sources    *prometheus.CounterVec
	attempts   prometheus.Counter
	executions *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// GlobalMetrics returns the process-wide collectors, registering them with
// the default prometheus registry on first use.
func GlobalMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = newMetrics()
	})
	return metricsInst
}

func newMetrics() *Metrics {
	return &Metrics{
		runs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotplug",
			Subsystem: "loader",
			Name:      "runs_total",
			Help:      "Plugin load runs, labeled by final status",
		}, []string{"status"}),
		sources: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotplug",
			Subsystem: "loader",
			Name:      "sources_total",
			Help:      "Sources processed by plugin load runs, labeled by outcome",
		}, []string{"outcome"}),
		attempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "hotplug",
			Subsystem: "loader",
			Name:      "attempts_total",
			Help:      "Run attempts made by the retry coordinator",
		}),
		executions: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hotplug",
			Subsystem: "sandbox",
			Name:      "execution_seconds",
			Help:      "Duration of sandboxed payload executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
	}
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(status Status) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
}

// RecordSource counts one processed source.
func (m *Metrics) RecordSource(outcome string) {
	if m == nil {
		return
	}
	m.sources.WithLabelValues(outcome).Inc()
}

// RecordAttempt counts one coordinator attempt.
func (m *Metrics) RecordAttempt() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

// ObserveExecution records the duration of one sandbox execution.
func (m *Metrics) ObserveExecution(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.executions.WithLabelValues(result).Observe(d.Seconds())
}
