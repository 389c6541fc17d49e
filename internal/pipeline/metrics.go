package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mathcoach",
			Name:      "queries_total",
			Help:      "Total handled queries by terminal state",
		},
		[]string{"state", "error_type"},
	)

	queryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mathcoach",
			Name:      "query_duration_seconds",
			Help:      "End-to-end duration of HandleQuery in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mathcoach",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"stage"}, // "input_guardrail", "synthesis", "output_guardrail"
	)

	guardrailVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mathcoach",
			Name:      "guardrail_verdicts_total",
			Help:      "Guardrail outcomes by stage and verdict",
		},
		[]string{"stage", "verdict"},
	)

	toolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mathcoach",
			Name:      "tool_invocations_total",
			Help:      "Capability invocations made by the synthesis model",
		},
		[]string{"tool"},
	)

	synthesesWithoutTools = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mathcoach",
			Name:      "syntheses_without_tools_total",
			Help:      "Syntheses that finished without calling any tool",
		},
	)

	promptTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mathcoach",
			Name:      "prompt_tokens_estimated_total",
			Help:      "Estimated tokens of enhanced queries sent to synthesis",
		},
	)

	retrievalHits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mathcoach",
			Name:      "retrieval_hits",
			Help:      "Number of corpus problems returned per rag_search",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8, 10},
		},
	)

	webSearchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mathcoach",
			Name:      "web_search_query_failures_total",
			Help:      "Web search queries that returned an error entry",
		},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mathcoach",
			Name:      "sessions_active",
			Help:      "Number of sessions held in memory",
		},
	)
)

// SetActiveSessions publishes the live session count.
func SetActiveSessions(n int) {
	sessionsActive.Set(float64(n))
}
