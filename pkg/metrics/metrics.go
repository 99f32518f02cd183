package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AdvisoryCalls counts advisory service invocations by result (ok, cache_hit, failed)
var AdvisoryCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "modelpilot_advisory_calls_total",
		Help: "Total number of advisory invocations by result",
	},
	[]string{"result"},
)

// AdvisoryRetries counts retry attempts against the advisory service
var AdvisoryRetries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "modelpilot_advisory_retries_total",
		Help: "Total number of advisory call retries",
	},
)

// AdvisoryTokens counts estimated tokens by kind (prompt/completion)
var AdvisoryTokens = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "modelpilot_advisory_tokens_total",
		Help: "Estimated tokens consumed by advisory calls",
	},
	[]string{"kind"},
)

// AdvisoryLatency records advisory call latency distribution
var AdvisoryLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "modelpilot_advisory_latency_seconds",
		Help:    "Latency in seconds of advisory service calls",
		Buckets: prometheus.DefBuckets,
	},
)

// SearchTrials counts hyperparameter trials by model family
var SearchTrials = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "modelpilot_search_trials_total",
		Help: "Total number of hyperparameter search trials executed",
	},
	[]string{"family"},
)

// StageDuration records per-stage pipeline durations
var StageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "modelpilot_stage_duration_seconds",
		Help:    "Duration in seconds of individual pipeline stages",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	},
	[]string{"stage"},
)

// PipelineRuns counts terminal pipeline runs by status
var PipelineRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "modelpilot_pipeline_runs_total",
		Help: "Total number of pipeline runs by terminal status",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(AdvisoryCalls, AdvisoryRetries, AdvisoryTokens, AdvisoryLatency)
	prometheus.MustRegister(SearchTrials, StageDuration, PipelineRuns)
}
