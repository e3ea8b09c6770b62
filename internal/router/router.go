// Package router decides how a classified turn is answered: a direct
// templated reply, a clarification short-circuit, the austere chatter path,
// or the full LLM-with-tools pipeline.
package router

import (
	"encoding/json"

	"github.com/convoflow/convoflow/internal/templates"
	"github.com/convoflow/convoflow/pkg/models"
)

// Action is the routing outcome for a turn.
type Action string

const (
	// ActionDirectReply answers from a template without calling the model.
	ActionDirectReply Action = "direct_reply"
	// ActionClarify short-circuits with a clarification question.
	ActionClarify Action = "clarify"
	// ActionChatter routes to the model with an austere budget and no tools.
	ActionChatter Action = "chatter"
	// ActionLLMWithTools is the default full pipeline.
	ActionLLMWithTools Action = "llm_with_tools"
)

// Decision is the router's output. Reply is set only for direct replies and
// clarifications. SafeMode means the classifier failed closed: the model may
// run but gets no tools.
type Decision struct {
	Action      Action
	Reply       string
	MessageType models.MessageType
	SafeMode    bool
}

// Config tunes the router.
type Config struct {
	// ClarifyBelow is the confidence floor under which a non-failed
	// classification short-circuits to a clarification question. Only
	// applies with strict grounding enabled.
	ClarifyBelow float64
	// StrictGrounding enables the clarification short-circuit.
	StrictGrounding bool
	// KBLinks maps businessID to curated help links for KB_ONLY channels.
	KBLinks map[string][]string
}

// Router routes classified turns.
type Router struct {
	cfg Config
}

// New creates a router.
func New(cfg Config) *Router {
	if cfg.ClarifyBelow <= 0 {
		cfg.ClarifyBelow = 0.3
	}
	return &Router{cfg: cfg}
}

// Route decides the path for one turn. The session is read, never mutated.
func (r *Router) Route(req *models.TurnRequest, session *models.Session, c models.Classification) Decision {
	lang := req.Language

	// KB_ONLY channels never reach tools; anything transactional gets the
	// curated-links barrier.
	if req.ChannelMode == models.ModeKBOnly && requiresAction(c.Type) {
		return Decision{
			Action:      ActionDirectReply,
			Reply:       templates.RenderLinks(lang, r.cfg.KBLinks[req.BusinessID]),
			MessageType: models.MessageTypeSystemBarrier,
		}
	}

	switch c.Type {
	case models.IntentDispute:
		// Restate the anchored truth instead of arguing or re-running tools.
		if session.Anchor != nil && len(session.Anchor.Truth) > 0 {
			return Decision{
				Action:      ActionDirectReply,
				Reply:       templates.Render(templates.KeyDisputeAnchor, lang, anchorSummary(session.Anchor)),
				MessageType: models.MessageTypeAnswer,
			}
		}
		return Decision{Action: ActionLLMWithTools}

	case models.IntentChatter:
		return Decision{Action: ActionChatter, MessageType: models.MessageTypeChatter}
	}

	if c.Failed {
		// Fail-closed classification: the model may answer, but without
		// tools it cannot assert account facts.
		return Decision{Action: ActionLLMWithTools, SafeMode: true}
	}

	if r.cfg.StrictGrounding && c.Confidence < r.cfg.ClarifyBelow {
		return Decision{
			Action:      ActionClarify,
			Reply:       templates.Render(templates.KeyClarify, lang),
			MessageType: models.MessageTypeClarification,
		}
	}

	return Decision{Action: ActionLLMWithTools}
}

// requiresAction reports whether the intent needs live data or a
// transaction, which KB_ONLY channels cannot provide.
func requiresAction(intent models.IntentType) bool {
	switch intent {
	case models.IntentChatter, models.IntentOther:
		return false
	}
	return true
}

// anchorSummary renders the anchored truth compactly for a dispute reply.
func anchorSummary(anchor *models.Anchor) string {
	var truth map[string]any
	if err := json.Unmarshal(anchor.Truth, &truth); err != nil || len(truth) == 0 {
		return string(anchor.Truth)
	}
	if msg, ok := truth["message"].(string); ok && msg != "" {
		return msg
	}
	compact, err := json.Marshal(truth)
	if err != nil {
		return string(anchor.Truth)
	}
	return string(compact)
}
