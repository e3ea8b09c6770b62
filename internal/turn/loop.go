package turn

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/convoflow/convoflow/internal/llm"
	"github.com/convoflow/convoflow/internal/policy"
	"github.com/convoflow/convoflow/internal/templates"
	"github.com/convoflow/convoflow/internal/tools"
	"github.com/convoflow/convoflow/pkg/models"
)

// loopOutcome is what the bounded tool loop produced for one turn.
type loopOutcome struct {
	text         string
	results      []*models.ToolResult
	toolsCalled  []string
	inputTokens  int
	outputTokens int

	// shortCircuited means the reply is a tool's terminal message.
	shortCircuited bool
	// repeatBlocked means the repeat-attempt breaker synthesized the reply.
	repeatBlocked bool
	// guidanceUsed means at least one precondition guidance response was
	// sent instead of executing a tool.
	guidanceUsed bool
}

// runLoop drives the model against the gated tool set, at most
// MaxIterations round trips.
func (o *Orchestrator) runLoop(ctx context.Context, req *models.TurnRequest, session *models.Session, system string, gated []models.CatalogEntry, newSlots map[string]string, maxOutput int) (*loopOutcome, error) {
	out := &loopOutcome{}
	now := time.Now()

	messages, err := o.historyMessages(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Text})

	toolDefs := make([]llm.ToolDef, 0, len(gated))
	for _, entry := range gated {
		toolDefs = append(toolDefs, llm.ToolDef{
			Name:        entry.Name,
			Description: entry.Description,
			Schema:      entry.ParameterSchema,
		})
	}

	for iter := 0; iter < o.cfg.Orchestrator.MaxIterations; iter++ {
		llmStart := time.Now()
		resp, err := o.provider.Complete(ctx, &llm.Request{
			Model:     o.cfg.LLM.Model,
			System:    system,
			Messages:  messages,
			Tools:     toolDefs,
			MaxTokens: maxOutput,
		})
		if err != nil {
			return nil, err
		}
		if o.metrics != nil {
			o.metrics.LLMRequestDuration.WithLabelValues(o.provider.Name(), o.cfg.LLM.Model).Observe(time.Since(llmStart).Seconds())
			o.metrics.RecordTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}
		out.inputTokens += resp.Usage.InputTokens
		out.outputTokens += resp.Usage.OutputTokens
		if o.calibrator != nil && resp.Usage.InputTokens > 0 {
			o.calibrator.Record(o.estimateMessages(system, messages), resp.Usage.InputTokens)
		}

		if len(resp.ToolCalls) == 0 {
			out.text = resp.Text
			break
		}
		// Keep any interleaved text as a fallback if the loop exhausts.
		if resp.Text != "" {
			out.text = resp.Text
		}

		assistantMsg := llm.Message{Role: "assistant", Content: resp.Text, ToolCalls: resp.ToolCalls}
		var responses []llm.ToolResponse

		for _, call := range resp.ToolCalls {
			entry, known := o.registry.Lookup(call.Name)
			if !known {
				responses = append(responses, llm.ToolResponse{
					CallID: call.ID, Name: call.Name, IsError: true,
					Content: toolMessageJSON(templates.Render(templates.KeySystemError, req.Language)),
				})
				continue
			}

			// Precondition check: missing required slots get guidance, not
			// execution.
			if missing := missingSlots(entry.Preconditions.RequiredSlots, session.Slots); len(missing) > 0 {
				out.guidanceUsed = true
				guidance := entry.Preconditions.Guidance[req.Language]
				if guidance == "" {
					guidance = templates.Render(templates.KeyNeedMoreInfo, req.Language)
				}
				responses = append(responses, llm.ToolResponse{
					CallID: call.ID, Name: call.Name,
					Content: toolMessageJSON(guidance),
				})
				continue
			}

			args, err := tools.DecodeArgs(call.Args)
			if err != nil {
				responses = append(responses, llm.ToolResponse{
					CallID: call.ID, Name: call.Name, IsError: true,
					Content: toolMessageJSON(templates.Render(templates.KeyNeedMoreInfo, req.Language)),
				})
				continue
			}
			argsHash := policy.ArgsHash(args)

			if repeat := policy.CheckRepeat(session.LastToolAttempt, call.Name, argsHash, newSlots, o.cfg.Orchestrator.RepeatWindow, now); repeat.Blocked {
				if o.metrics != nil {
					o.metrics.RepeatGuardBlocks.Inc()
				}
				out.repeatBlocked = true
				out.text = repeatReply(repeat, session.Slots, req.Language)
				return out, nil
			}

			result := o.runner.Run(ctx, call, tools.CallMeta{
				BusinessID: req.BusinessID,
				Channel:    req.Channel,
				SessionID:  session.ID,
				MessageID:  req.MessageID,
				Language:   req.Language,
				Slots:      session.Slots,
			})
			out.results = append(out.results, result)
			out.toolsCalled = append(out.toolsCalled, call.Name)

			o.applyOutcomePolicy(req, session, call.Name, argsHash, result, now)

			if result.Outcome.Terminal() {
				out.text = result.Message
				out.shortCircuited = true
				return out, nil
			}

			responses = append(responses, llm.ToolResponse{
				CallID: call.ID, Name: call.Name,
				Content: exposedResult(result),
				IsError: result.Outcome != models.OutcomeOK,
			})
		}

		messages = append(messages, assistantMsg, llm.Message{Role: "user", ToolResults: responses})
	}

	if strings.TrimSpace(out.text) == "" {
		out.text = templates.Render(templates.KeyEmptyFallback, req.Language)
	}
	return out, nil
}

// applyOutcomePolicy folds one tool result into session state: anchors,
// declarative state events, the repeat ledger, verification attempts, and
// the enumeration window.
func (o *Orchestrator) applyOutcomePolicy(req *models.TurnRequest, session *models.Session, tool, argsHash string, result *models.ToolResult, now time.Time) {
	switch result.Outcome {
	case models.OutcomeOK:
		o.updateAnchor(session, tool, result, now)
		if session.FlowStatus == models.FlowIdle || session.FlowStatus == models.FlowInProgress {
			session.FlowStatus = models.FlowPostResult
			session.PostResultTurns = 0
		}

	case models.OutcomeNotFound:
		if policy.RecordNotFound(session, policy.EnumerationParams{
			Threshold:    o.cfg.Enumeration.Threshold,
			Window:       o.cfg.Enumeration.Window,
			LockDuration: o.cfg.Enumeration.LockDuration,
		}, now) {
			if o.metrics != nil {
				o.metrics.EnumerationLocks.Inc()
			}
			o.log.Warn(context.Background(), "session locked by enumeration guard",
				"session_id", session.ID, "business_id", session.BusinessID)
		}

	case models.OutcomeVerificationRequired:
		promoted := o.opts.AutoVerify != nil && o.opts.AutoVerify(req, session, result)
		if promoted {
			result.Outcome = models.OutcomeOK
			session.Verification = models.Verification{Status: models.VerificationVerified}
			o.updateAnchor(session, tool, result, now)
			break
		}
		if len(result.AskFor) > 0 {
			session.Verification.PendingField = result.AskFor[0]
		}
		terminated := policy.IncrementVerificationAttempt(session, o.cfg.Enumeration.LockDuration, now)
		if o.metrics != nil {
			status := "pending"
			if terminated {
				status = "terminated"
			}
			o.metrics.VerificationAttempts.WithLabelValues(status).Inc()
		}
	}

	if o.cfg.Features.UseStateEvents && len(result.StateEvents) > 0 {
		policy.ApplyStateEvents(session, result.StateEvents, now)
	}

	policy.RecordAttempt(session, tool, argsHash, result, now)
}

// updateAnchor records the tool's truth for later dispute handling. Stock
// anchors additionally clear stale verification; availability is public
// data.
func (o *Orchestrator) updateAnchor(session *models.Session, tool string, result *models.ToolResult, now time.Time) {
	truth, err := json.Marshal(result.Data)
	if err != nil {
		return
	}
	switch {
	case strings.Contains(tool, "stock") || strings.Contains(tool, "product"):
		session.Anchor = &models.Anchor{Type: models.AnchorStock, Truth: truth, At: now}
		if product, ok := result.Data["product"].(string); ok && product != "" {
			session.LastStockContext = product
		}
		if session.Verification.Status == models.VerificationPending {
			session.Verification = models.Verification{Status: models.VerificationNone}
		}
	case strings.Contains(tool, "order") || strings.Contains(tool, "tracking"):
		session.Anchor = &models.Anchor{Type: models.AnchorOrder, Truth: truth, At: now}
	case strings.Contains(tool, "customer") || strings.Contains(tool, "debt") || strings.Contains(tool, "billing"):
		session.Anchor = &models.Anchor{Type: models.AnchorDebt, Truth: truth, At: now}
	}
}

// repeatReply builds the askFor-aware clarification for a blocked repeat.
func repeatReply(repeat policy.RepeatDecision, slots map[string]string, lang models.Language) string {
	if question, _ := policy.TargetedQuestion(repeat.AskFor, slots, lang); question != "" {
		return question
	}
	if repeat.PriorOutcome == models.OutcomeNeedMoreInfo {
		return templates.Render(templates.KeyNeedMoreInfo, lang)
	}
	return templates.Render(templates.KeyNotFound, lang)
}

// exposedResult strips internal flags before the result reaches the model:
// message always, data only for OK.
func exposedResult(result *models.ToolResult) string {
	payload := map[string]any{"message": result.Message}
	if result.Outcome == models.OutcomeOK && len(result.Data) > 0 {
		payload["data"] = result.Data
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return toolMessageJSON(result.Message)
	}
	return string(raw)
}

func toolMessageJSON(message string) string {
	raw, _ := json.Marshal(map[string]string{"message": message})
	return string(raw)
}

func missingSlots(required []string, slots map[string]string) []string {
	var missing []string
	for _, name := range required {
		if slots[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func (o *Orchestrator) estimateMessages(system string, messages []llm.Message) int {
	total := len(system)
	for _, m := range messages {
		total += len(m.Content)
		for _, tr := range m.ToolResults {
			total += len(tr.Content)
		}
	}
	cpt := o.cfg.Budget.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	return total / cpt
}
