package tools

import (
	"context"
	"time"

	"github.com/convoflow/convoflow/internal/observability"
	"github.com/convoflow/convoflow/internal/retry"
	"github.com/convoflow/convoflow/internal/templates"
	"github.com/convoflow/convoflow/pkg/models"
)

// RunnerConfig tunes tool execution.
type RunnerConfig struct {
	Timeout      time.Duration
	RetryBackoff time.Duration
	TokenCap     int
}

// Runner executes tool calls: validation, idempotency, one retry, and
// sanitization. Run never returns a Go error; failures become outcomes.
type Runner struct {
	registry *Registry
	idem     *IdempotencyCache
	cfg      RunnerConfig
	log      *observability.Logger
	metrics  *observability.Metrics
	mocks    *MockSet
}

// NewRunner wires a runner. mocks may be nil.
func NewRunner(registry *Registry, idem *IdempotencyCache, cfg RunnerConfig, log *observability.Logger, metrics *observability.Metrics, mocks *MockSet) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.TokenCap <= 0 {
		cfg.TokenCap = 3000
	}
	return &Runner{registry: registry, idem: idem, cfg: cfg, log: log, metrics: metrics, mocks: mocks}
}

// Run executes one tool call for a turn.
func (r *Runner) Run(ctx context.Context, call models.ToolCall, meta CallMeta) *models.ToolResult {
	start := time.Now()
	result := r.run(ctx, call, meta)
	result.Outcome = models.NormalizeOutcome(string(result.Outcome))
	if result.Message == "" {
		result.Message = defaultMessage(result.Outcome, meta.Language)
	}

	if r.metrics != nil {
		r.metrics.RecordToolExecution(call.Name, string(result.Outcome), time.Since(start).Seconds())
	}
	r.log.Info(ctx, "tool executed",
		"tool", call.Name,
		"outcome", string(result.Outcome),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result
}

func (r *Runner) run(ctx context.Context, call models.ToolCall, meta CallMeta) *models.ToolResult {
	reg, ok := r.registry.get(call.Name)
	if !ok {
		return &models.ToolResult{ToolName: call.Name, Outcome: models.OutcomeInfraError}
	}

	args, err := DecodeArgs(call.Args)
	if err != nil {
		return &models.ToolResult{ToolName: call.Name, Outcome: models.OutcomeNeedMoreInfo}
	}
	if err := r.registry.ValidateArgs(call.Name, args); err != nil {
		r.log.Warn(ctx, "tool args failed validation", "tool", call.Name, "error", err.Error())
		return &models.ToolResult{ToolName: call.Name, Outcome: models.OutcomeNeedMoreInfo}
	}

	key := IdempotencyKey(meta.BusinessID, meta.Channel, meta.MessageID, call.Name)
	if r.idem != nil {
		if cached, ok := r.idem.Get(key); ok {
			r.log.Debug(ctx, "tool result served from idempotency cache", "tool", call.Name)
			return cached
		}
	}

	handler := reg.handler
	if r.mocks != nil {
		if mock, ok := r.mocks.Handler(call.Name); ok {
			handler = mock
		}
	}

	result, err := retry.DoWithValue(ctx, retry.Once(r.cfg.RetryBackoff), func() (*models.ToolResult, error) {
		execCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		return handler(execCtx, args, meta)
	})
	if err != nil {
		r.log.Error(ctx, "tool execution failed", "tool", call.Name, "error", err.Error())
		return &models.ToolResult{ToolName: call.Name, Outcome: models.OutcomeInfraError}
	}
	if result == nil {
		return &models.ToolResult{ToolName: call.Name, Outcome: models.OutcomeInfraError}
	}
	result.ToolName = call.Name

	Sanitize(result, reg.entry, r.cfg.TokenCap)

	if r.idem != nil {
		r.idem.Put(key, result)
	}
	return result
}

func defaultMessage(outcome models.Outcome, lang models.Language) string {
	switch outcome {
	case models.OutcomeNotFound:
		return templates.Render(templates.KeyNotFound, lang)
	case models.OutcomeNeedMoreInfo:
		return templates.Render(templates.KeyNeedMoreInfo, lang)
	case models.OutcomeVerificationRequired:
		return templates.Render(templates.KeyVerification, lang)
	case models.OutcomeDenied:
		return templates.Render(templates.KeyDenied, lang)
	case models.OutcomeInfraError:
		return templates.Render(templates.KeySystemError, lang)
	}
	return ""
}
