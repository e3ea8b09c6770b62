package turn

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/convoflow/internal/templates"
	"github.com/convoflow/convoflow/pkg/models"
)

// finish is everything the persist stage needs to close out a turn.
type finish struct {
	reply          string
	messageType    models.MessageType
	guardAction    models.GuardrailAction
	grounding      models.Grounding
	routingAction  string
	classification models.Classification
	toolsCalled    []string
	toolResults    []*models.ToolResult
	inputTokens    int
	outputTokens   int
	start          time.Time

	// skipAssistantPersist keeps a fallback reply out of the durable
	// transcript when the model path failed; only the user turn is recorded.
	skipAssistantPersist bool
	// skipPersist drops every durable write. Set when the turn's deadline
	// expired mid-pipeline so partial state never lands.
	skipPersist bool
}

// finishTurn persists the turn and assembles the result. Dry runs skip every
// durable write. A persist failure downgrades the reply to a generic apology
// so the user never sees state the store did not accept.
func (o *Orchestrator) finishTurn(ctx context.Context, req *models.TurnRequest, session *models.Session, f finish) (*models.TurnResult, error) {
	now := time.Now()

	if !req.DryRun && !f.skipPersist {
		if err := o.persistTurn(ctx, req, session, f, now); err != nil {
			if o.metrics != nil {
				o.metrics.PersistErrors.Inc()
			}
			o.log.Error(ctx, "turn persist failed", "error", err.Error())
			f.reply = templates.Render(templates.KeySystemError, req.Language)
			f.guardAction = models.GuardrailBlock
			f.grounding = models.GroundingOutOfScope
		}
	}

	duration := time.Since(f.start)
	if o.metrics != nil {
		o.metrics.RecordTurn(string(req.Channel), f.routingAction, duration.Seconds())
	}
	o.log.Info(ctx, "turn completed",
		"classification", string(f.classification.Type),
		"routing_action", f.routingAction,
		"guardrail_action", string(f.guardAction),
		"tools_called", len(f.toolsCalled),
		"duration_ms", duration.Milliseconds(),
	)

	return &models.TurnResult{
		Reply:            f.reply,
		ShouldEndSession: session.FlowStatus == models.FlowTerminated,
		ForceEnd:         forceEnd(req.Channel, f.toolResults),
		State:            session,
		InputTokens:      f.inputTokens,
		OutputTokens:     f.outputTokens,
		Debug: models.TurnDebug{
			Classification:  string(f.classification.Type),
			Confidence:      f.classification.Confidence,
			RoutingAction:   f.routingAction,
			ToolsCalled:     f.toolsCalled,
			Grounding:       f.grounding,
			GuardrailAction: f.guardAction,
			TurnDuration:    duration,
		},
	}, nil
}

// persistTurn writes the session and transcript. The user entry is always
// appended; the assistant entry is skipped for non-durable fallback replies.
func (o *Orchestrator) persistTurn(ctx context.Context, req *models.TurnRequest, session *models.Session, f finish, now time.Time) error {
	session.UpdatedAt = now
	if err := o.store.Save(ctx, session); err != nil {
		return err
	}

	if err := o.store.Append(ctx, session.ID, &models.TranscriptEntry{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   req.Text,
		CreatedAt: now,
	}); err != nil {
		return err
	}

	if f.skipAssistantPersist {
		return nil
	}
	return o.store.Append(ctx, session.ID, &models.TranscriptEntry{
		ID:              uuid.NewString(),
		SessionID:       session.ID,
		Role:            models.RoleAssistant,
		Content:         f.reply,
		Grounding:       f.grounding,
		MessageType:     f.messageType,
		GuardrailAction: f.guardAction,
		ToolCalls:       f.toolsCalled,
		CreatedAt:       now,
	})
}

// forceEnd reports whether a phone call should be hung up: voice sessions do
// not survive a terminal tool failure.
func forceEnd(channel models.Channel, results []*models.ToolResult) bool {
	if channel != models.ChannelPhone {
		return false
	}
	for _, r := range results {
		if r != nil && r.Outcome.Terminal() {
			return true
		}
	}
	return false
}
