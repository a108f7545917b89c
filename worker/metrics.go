package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/run-ci/pulse/pipeline"
)

var (
	executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "worker",
		Name:      "executions_total",
		Help:      "Pipeline executions handled, by final status.",
	}, []string{"status"})

	executionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pulse",
		Subsystem: "worker",
		Name:      "execution_duration_seconds",
		Help:      "Wall time of pipeline executions that ran steps.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	malformedJobsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "worker",
		Name:      "malformed_jobs_total",
		Help:      "Jobs dropped because they couldn't be decoded.",
	})
)

func init() {
	prometheus.MustRegister(executionsTotal, executionSeconds, malformedJobsTotal)
}

func observe(e pipeline.Execution) {
	executionsTotal.WithLabelValues(string(e.Status)).Inc()

	if e.Status != pipeline.StatusSkipped && e.CompletedAt != nil {
		executionSeconds.Observe(e.CompletedAt.Sub(e.StartedAt).Seconds())
	}
}
