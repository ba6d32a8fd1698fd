package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels runs that finished their work.
	OutcomeSuccess = "success"
	// OutcomeError labels runs aborted by a pipeline or dependency failure.
	OutcomeError = "error"
	// OutcomeNoMatch labels selection runs that found no runbook to execute.
	OutcomeNoMatch = "no_match"
	// OutcomeSkipped labels indexing attempts that produced no extraction.
	OutcomeSkipped = "skipped"
)

const namespace = "incident_agent"

var (
	incidentsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_received_total",
			Help:      "Incident webhooks received, partitioned by whether the incident already existed.",
		},
		[]string{"deduplicated"},
	)

	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Selection pipeline runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	pipelineDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_seconds",
			Help:      "Selection pipeline latency in seconds, excluding job polling.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		},
	)

	runbooksIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runbooks_indexed_total",
			Help:      "Runbook indexing attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Automation jobs observed to finish, partitioned by final status.",
		},
		[]string{"status"},
	)

	jobWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_wait_seconds",
			Help:      "Time spent polling an automation job until it settled.",
			Buckets:   prometheus.ExponentialBuckets(30, 2, 9),
		},
	)

	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Completion and embedding calls, partitioned by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
)

// Register attaches incident-agent collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		incidentsReceivedTotal,
		pipelineRunsTotal,
		pipelineDurationSeconds,
		runbooksIndexedTotal,
		jobsTotal,
		jobWaitSeconds,
		llmRequestsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIncident counts a received incident webhook.
func ObserveIncident(deduplicated bool) {
	incidentsReceivedTotal.WithLabelValues(strconv.FormatBool(deduplicated)).Inc()
}

// ObservePipeline records a selection run duration and outcome label.
func ObservePipeline(duration time.Duration, outcome string) {
	pipelineRunsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	pipelineDurationSeconds.Observe(duration.Seconds())
}

// ObserveIndexing counts one indexing attempt.
func ObserveIndexing(outcome string) {
	runbooksIndexedTotal.WithLabelValues(outcome).Inc()
}

// ObserveJob records the final status of an automation job and how long it was polled.
func ObserveJob(status string, waited time.Duration) {
	jobsTotal.WithLabelValues(status).Inc()
	if waited > 0 {
		jobWaitSeconds.Observe(waited.Seconds())
	}
}

// ObserveLLM counts a provider call after retries settled.
func ObserveLLM(operation string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	llmRequestsTotal.WithLabelValues(operation, outcome).Inc()
}
