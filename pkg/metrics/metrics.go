// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnsTotal counts handled turns by the route the orchestrator took.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatflow_turns_total",
			Help: "Turns handled by route",
		},
		[]string{"route"},
	)

	// StageDuration tracks the duration of orchestrator stages.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatflow_stage_duration_seconds",
			Help:    "Duration of chatflow stages",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"stage"},
	)

	// GenerationAttempts tracks how many attempts a generation needed.
	GenerationAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "generation_attempts",
			Help:    "Attempts used per answer generation",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	// GenerationOutcomes counts generation results by outcome.
	GenerationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_outcomes_total",
			Help: "Answer generation outcomes",
		},
		[]string{"outcome"},
	)

	// RerankFallbacks counts reranker calls that degraded to truncation.
	RerankFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rerank_fallbacks_total",
			Help: "Rerank calls that fell back to unreranked candidates",
		},
	)

	// LLMInflight tracks calls currently holding a generative backend slot.
	LLMInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "llm_inflight_requests",
			Help: "In-flight calls to the generative backend",
		},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// EscalationTransitions counts escalation state changes.
	EscalationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalation_transitions_total",
			Help: "Helpdesk escalation state transitions",
		},
		[]string{"from", "to"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"platform"},
	)

	// EventsPublished counts conversation events sent to NATS.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_events_published_total",
			Help: "Conversation events published to NATS",
		},
		[]string{"type", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStage records the duration of one orchestrator stage.
func RecordStage(stage string, seconds float64) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordGeneration records the result of one answer generation.
func RecordGeneration(outcome string, attempts int) {
	GenerationOutcomes.WithLabelValues(outcome).Inc()
	GenerationAttempts.Observe(float64(attempts))
}

// RecordTokens records token usage of one LLM call.
func RecordTokens(model string, tokensIn, tokensOut int) {
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}
