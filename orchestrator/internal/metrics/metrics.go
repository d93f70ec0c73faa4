package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	auditflow = "auditflow"

	jobsTotal           = "jobs_total"
	stepsTotal          = "steps_total"
	stepDurationSeconds = "step_duration_seconds"
	tokensTotal         = "tokens_total"
	jobsRunning         = "jobs_running"
	jobsRecoveredTotal  = "jobs_recovered_total"

	// Labels
	statusLabel    = "status"
	stepKindLabel  = "kind"
	directionLabel = "direction"
	reasonLabel    = "reason"

	StepKindCandidate = "candidate"
	StepKindReviewer  = "reviewer"
)

var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: auditflow,
		Name:      jobsTotal,
		Help:      "number of jobs that reached a terminal status",
	},
	[]string{statusLabel},
)

var stepsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: auditflow,
		Name:      stepsTotal,
		Help:      "number of finished units of work",
	},
	[]string{stepKindLabel, statusLabel},
)

var stepDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: auditflow,
		Name:      stepDurationSeconds,
		Help:      "executor latency per unit of work",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{stepKindLabel},
)

var tokensTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: auditflow,
		Name:      tokensTotal,
		Help:      "tokens consumed by executor calls",
	},
	[]string{directionLabel},
)

var jobsRunningMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: auditflow,
		Name:      jobsRunning,
		Help:      "jobs currently driven by this process",
	},
)

var jobsRecoveredMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: auditflow,
		Name:      jobsRecoveredTotal,
		Help:      "jobs re-enqueued by recovery",
	},
	[]string{reasonLabel},
)

func IncreaseJobsTotalMetric(status string) {
	jobsTotalMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func ObserveStep(kind, status string, seconds float64) {
	stepsTotalMetric.With(prometheus.Labels{stepKindLabel: kind, statusLabel: status}).Inc()
	stepDurationMetric.With(prometheus.Labels{stepKindLabel: kind}).Observe(seconds)
}

func AddTokens(input, output int64) {
	tokensTotalMetric.With(prometheus.Labels{directionLabel: "input"}).Add(float64(input))
	tokensTotalMetric.With(prometheus.Labels{directionLabel: "output"}).Add(float64(output))
}

func JobStarted() { jobsRunningMetric.Inc() }

func JobStopped() { jobsRunningMetric.Dec() }

func IncreaseJobsRecoveredMetric(reason string) {
	jobsRecoveredMetric.With(prometheus.Labels{reasonLabel: reason}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(stepsTotalMetric)
	prometheus.MustRegister(stepDurationMetric)
	prometheus.MustRegister(tokensTotalMetric)
	prometheus.MustRegister(jobsRunningMetric)
	prometheus.MustRegister(jobsRecoveredMetric)
}
