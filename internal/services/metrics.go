package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the agent
type Metrics struct {
	// Job ledger metrics
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	JobSkips    *prometheus.CounterVec

	// Pipeline stage metrics
	SnippetsCaptured   prometheus.Counter
	ItemsReclassified  prometheus.Counter
	MergeFlagsCreated  prometheus.Counter
	DocumentsCompiled  prometheus.Counter
	EntriesArchived    prometheus.Counter

	// Collaborator metrics
	AIRequests       *prometheus.CounterVec
	AIRequestLatency prometheus.Histogram
	AIErrors         *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	metrics := &Metrics{
		JobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_job_runs_total",
			Help: "Total number of scheduled job runs by job name and outcome",
		}, []string{"job_name", "outcome"}),

		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_job_duration_seconds",
			Help:    "Scheduled job run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		}, []string{"job_name"}),

		JobSkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_job_skips_total",
			Help: "Total number of firings dropped by the overlap guard",
		}, []string{"job_name"}),

		SnippetsCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_snippets_captured_total",
			Help: "Total number of snippets derived from source records",
		}),

		ItemsReclassified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_items_reclassified_total",
			Help: "Total number of knowledge items whose category was corrected",
		}),

		MergeFlagsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_merge_flags_total",
			Help: "Total number of merge corrections created by the deduplicator",
		}),

		DocumentsCompiled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_documents_compiled_total",
			Help: "Total number of documents produced by the compilation engine",
		}),

		EntriesArchived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_entries_archived_total",
			Help: "Total number of journal entries archived after compilation",
		}),

		AIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_ai_requests_total",
			Help: "Total number of collaborator requests by kind",
		}, []string{"kind"}),

		AIRequestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_ai_request_duration_seconds",
			Help:    "Collaborator request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}, // up to 2 minutes for LLM responses
		}),

		AIErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_ai_errors_total",
			Help: "Total number of collaborator errors by kind",
		}, []string{"kind"}),
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordJobRun records a completed or failed job run with its duration.
func (m *Metrics) RecordJobRun(jobName, outcome string, seconds float64) {
	m.JobRuns.WithLabelValues(jobName, outcome).Inc()
	m.JobDuration.WithLabelValues(jobName).Observe(seconds)
}

// RecordJobSkip records a firing dropped by the overlap guard.
func (m *Metrics) RecordJobSkip(jobName string) {
	m.JobSkips.WithLabelValues(jobName).Inc()
}

// RecordAIRequest records one collaborator call with its latency.
func (m *Metrics) RecordAIRequest(kind string, seconds float64) {
	m.AIRequests.WithLabelValues(kind).Inc()
	m.AIRequestLatency.Observe(seconds)
}

// RecordAIError records a collaborator failure.
func (m *Metrics) RecordAIError(kind string) {
	m.AIErrors.WithLabelValues(kind).Inc()
}
