// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "framer"

var histogramBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 600}

var (
	StageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "setup",
		Name:      "transitions_total",
		Help:      "Setup state transitions by target state and outcome",
	}, []string{"state", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "setup",
		Name:      "stage_duration_seconds",
		Help:      "Duration of setup stage functions",
		Buckets:   histogramBuckets,
	}, []string{"state"})

	SupervisorAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "attempts_total",
		Help:      "Supervised process attempts by target and outcome",
	}, []string{"target", "outcome"})

	BuildPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "polls_total",
		Help:      "Build status polls by result",
	}, []string{"result"})

	BuildOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "outcomes_total",
		Help:      "Final build statuses recorded by the poller",
	}, []string{"status"})

	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "workspace",
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting for a working tree lock",
		Buckets:   histogramBuckets,
	}, []string{"outcome"})

	SyncResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workspace",
		Name:      "sync_total",
		Help:      "Safe pull and push results",
	}, []string{"operation", "result"})
)

// ObserveLockWait records how long an acquirer waited and whether it got the lock
func ObserveLockWait(acquired bool, waited time.Duration) {
	outcome := "acquired"
	if !acquired {
		outcome = "timeout"
	}
	LockWait.WithLabelValues(outcome).Observe(waited.Seconds())
}

// ObserveSync records a safe sync operation result
func ObserveSync(operation string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	SyncResults.WithLabelValues(operation, result).Inc()
}
