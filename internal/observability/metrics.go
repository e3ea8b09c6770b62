package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the per-turn counters the orchestrator emits.
//
// Tracked concerns:
//   - Turn volume and duration by channel and routing action
//   - Classification outcomes and confidence
//   - Tool execution counts, failures, and latency
//   - Token usage in and out
//   - Guardrail actions and policy trips (repeat-guard, enumeration lock)
//   - LLM request latency, persist errors, and rate-limit rejections
type Metrics struct {
	// TurnCounter counts completed turns.
	// Labels: channel, routing_action
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency in seconds.
	// Labels: channel
	TurnDuration *prometheus.HistogramVec

	// ClassificationCounter counts classifications.
	// Labels: intent, failed (true|false)
	ClassificationCounter *prometheus.CounterVec

	// ClassificationConfidence observes classifier confidence.
	ClassificationConfidence prometheus.Histogram

	// ToolExecutionCounter counts tool executions.
	// Labels: tool, outcome
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool latency in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// TokensUsed counts LLM tokens. Labels: direction (input|output)
	TokensUsed *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency. Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// GuardrailCounter counts guardrail dispositions. Labels: action
	GuardrailCounter *prometheus.CounterVec

	// RepeatGuardBlocks counts repeat-attempt short-circuits.
	RepeatGuardBlocks prometheus.Counter

	// EnumerationLocks counts sessions terminated by the enumeration guard.
	EnumerationLocks prometheus.Counter

	// VerificationAttempts counts identity-check attempts. Labels: status
	VerificationAttempts *prometheus.CounterVec

	// RateLimited counts turns rejected by the per-business limiter.
	RateLimited prometheus.Counter

	// PersistErrors counts failed durable writes.
	PersistErrors prometheus.Counter
}

// NewMetrics creates and registers all orchestrator metrics with the default
// Prometheus registry. Call once at startup.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers metrics on a caller-owned registry; used
// by tests to avoid duplicate registration.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_turns_total",
				Help: "Total turns processed by channel and routing action",
			},
			[]string{"channel", "routing_action"},
		),
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "convoflow_turn_duration_seconds",
				Help:    "End-to-end turn latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"channel"},
		),
		ClassificationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_classifications_total",
				Help: "Classifications by intent and failure state",
			},
			[]string{"intent", "failed"},
		),
		ClassificationConfidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "convoflow_classification_confidence",
				Help:    "Classifier confidence distribution",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_tool_executions_total",
				Help: "Tool executions by tool name and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "convoflow_tool_execution_duration_seconds",
				Help:    "Tool execution latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"tool"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_llm_tokens_total",
				Help: "LLM tokens consumed by direction",
			},
			[]string{"direction"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "convoflow_llm_request_duration_seconds",
				Help:    "LLM request latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		GuardrailCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_guardrail_actions_total",
				Help: "Guardrail dispositions on assistant drafts",
			},
			[]string{"action"},
		),
		RepeatGuardBlocks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "convoflow_repeat_guard_blocks_total",
				Help: "Tool calls short-circuited by the repeat-attempt guard",
			},
		),
		EnumerationLocks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "convoflow_enumeration_locks_total",
				Help: "Sessions terminated by the enumeration guard",
			},
		),
		VerificationAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_verification_attempts_total",
				Help: "Identity verification attempts by resulting status",
			},
			[]string{"status"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "convoflow_rate_limited_total",
				Help: "Turns rejected by the per-business rate limiter",
			},
		),
		PersistErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "convoflow_persist_errors_total",
				Help: "Failed session/transcript writes",
			},
		),
	}
}

// RecordTurn records a completed turn.
func (m *Metrics) RecordTurn(channel, routingAction string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(channel, routingAction).Inc()
	m.TurnDuration.WithLabelValues(channel).Observe(durationSeconds)
}

// RecordClassification records a classification outcome.
func (m *Metrics) RecordClassification(intent string, failed bool, confidence float64) {
	label := "false"
	if failed {
		label = "true"
	}
	m.ClassificationCounter.WithLabelValues(intent, label).Inc()
	m.ClassificationConfidence.Observe(confidence)
}

// RecordToolExecution records one tool execution.
func (m *Metrics) RecordToolExecution(tool, outcome string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, outcome).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordTokens records LLM token usage for a turn.
func (m *Metrics) RecordTokens(input, output int) {
	if input > 0 {
		m.TokensUsed.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		m.TokensUsed.WithLabelValues("output").Add(float64(output))
	}
}
