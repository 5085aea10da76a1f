// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueriesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_queries_total",
			Help: "Total number of queries processed, by outcome",
		},
		[]string{"outcome"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_query_duration_seconds",
			Help:    "End-to-end duration of process_query",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_agent_executions_total",
			Help: "Agent executions by agent and result",
		},
		[]string{"agent", "success"},
	)

	AgentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "orchestrator_agent_duration_seconds",
			Help: "Duration of a single agent execution",
		},
		[]string{"agent"},
	)

	IntentClassifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_intent_classifications_total",
			Help: "Classifications by source (rules, llm, default) and primary intent",
		},
		[]string{"source", "intent"},
	)

	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_llm_calls_total",
			Help: "LLM calls by purpose and outcome",
		},
		[]string{"purpose", "outcome"},
	)

	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_rate_limit_decisions_total",
			Help: "Rate limiter decisions by api and result",
		},
		[]string{"api", "allowed"},
	)

	GuardrailFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_guardrail_flags_total",
			Help: "Guardrail detectors that fired",
		},
		[]string{"flag"},
	)

	DataSourceLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_datasource_lookups_total",
			Help: "Data lookups by dataset, source and outcome (hit, miss, error)",
		},
		[]string{"dataset", "source", "outcome"},
	)

	JobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_job_transitions_total",
			Help: "Async job status transitions",
		},
		[]string{"status"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// BoolLabel renders a bool as a stable label value.
func BoolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
