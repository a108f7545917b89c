package http

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes, one per kind of answer GitHub gets.
const (
	outcomeRejected   = "rejected"
	outcomeIgnored    = "ignored"
	outcomeMalformed  = "malformed"
	outcomeNoPipeline = "no_pulsefile"
	outcomeFetchError = "fetch_error"
	outcomeInvalid    = "invalid_pulsefile"
	outcomeDispatched = "dispatched"
)

var (
	webhooksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "api",
		Name:      "webhooks_total",
		Help:      "GitHub webhook deliveries, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	jobsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "api",
		Name:      "jobs_dropped_total",
		Help:      "Accepted jobs that couldn't be queued.",
	})
)

func init() {
	prometheus.MustRegister(webhooksTotal, jobsDroppedTotal)
}
