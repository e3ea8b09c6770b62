package turn

import (
	"regexp"
	"strings"

	"github.com/convoflow/convoflow/internal/policy"
	"github.com/convoflow/convoflow/internal/templates"
	"github.com/convoflow/convoflow/pkg/models"
)

// recipientPatterns catch drafts trying to widen an email audience. Drafts
// only ever answer the original sender.
var recipientPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(cc|bcc)\s*:`),
	regexp.MustCompile(`(?i)\bforward(?:ing)? (?:this|the) (?:email|message|thread) to\b`),
	regexp.MustCompile(`(?i)\bbilgisine sun`),
	regexp.MustCompile(`(?i)\be-?postayı .{0,30}ilet`),
}

// GuardInput is the post-draft guardrail context.
type GuardInput struct {
	Draft    string
	Language models.Language
	Intent   models.IntentType
	Results  []*models.ToolResult
	Slots    map[string]string
	// EmailDraft enables the recipient guard.
	EmailDraft bool
	// ShortCircuited means the draft is a tool's own terminal message; the
	// tool-required replacement is skipped because the template is already
	// safe.
	ShortCircuited bool
	// GuidanceUsed means a precondition guidance response was synthesized
	// this turn.
	GuidanceUsed bool
}

// GuardOutput is the final reply and its disposition.
type GuardOutput struct {
	Text        string
	Action      models.GuardrailAction
	Grounding   models.Grounding
	MessageType models.MessageType
}

// stockCountPatterns catch exact inventory counts. Availability is shared
// only as a band: in stock, limited, or out of stock.
var stockCountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d+\s*(adet|tane)\b`),
	regexp.MustCompile(`(?i)\b\d+\s*(units?|pieces?|pcs)\b`),
	regexp.MustCompile(`(?i)\b\d+\s+(left|in stock|remaining)\b`),
}

// ApplyGuardrails post-processes the model's final draft, in order:
// recipient guard, tool-required replacement, action-claim rewrite,
// stock-count scrub, verification policy, PII scrub, empty-draft block.
func ApplyGuardrails(in GuardInput) GuardOutput {
	out := GuardOutput{
		Text:        strings.TrimSpace(in.Draft),
		Action:      models.GuardrailPass,
		Grounding:   models.GroundingGrounded,
		MessageType: models.MessageTypeAnswer,
	}
	hasOK := policy.HasSuccessfulResult(in.Results)
	if !hasOK {
		out.Grounding = models.GroundingClarification
	}

	if in.EmailDraft {
		for _, p := range recipientPatterns {
			if p.MatchString(out.Text) {
				out.Text = templates.Render(templates.KeyClarify, in.Language)
				out.Action = models.GuardrailBlock
				out.MessageType = models.MessageTypeClarification
				return out
			}
		}
	}

	verificationAskFor := collectAskFor(in.Results, models.OutcomeVerificationRequired)
	hasVerification := verificationAskFor != nil

	// Tool-required intents may not assert facts without an OK result; the
	// draft is replaced wholesale.
	if !in.ShortCircuited && policy.RequiresTool(in.Intent) && !hasOK {
		switch {
		case hasOutcome(in.Results, models.OutcomeInfraError):
			out.Text = templates.Render(templates.KeySystemError, in.Language)
			out.Action = models.GuardrailBlock
			out.MessageType = models.MessageTypeAnswer
			return out
		case hasVerification:
			text, _ := policy.ApplyVerificationPolicy("", verificationAskFor, in.Slots, in.Language)
			if text == "" {
				text = templates.Render(templates.KeyVerification, in.Language)
			}
			out.Text = text
			out.Action = models.GuardrailNeedMinInfo
			out.MessageType = models.MessageTypeVerification
			return out
		default:
			askFor := collectAskFor(in.Results, models.OutcomeNeedMoreInfo)
			text, _ := policy.ApplyVerificationPolicy("", askFor, in.Slots, in.Language)
			if text == "" {
				text = templates.Render(templates.KeyVerification, in.Language)
			}
			out.Text = text
			out.Action = models.GuardrailNeedMinInfo
			out.MessageType = models.MessageTypeVerification
			return out
		}
	}

	if !hasOK {
		if rewritten, changed := policy.RewriteActionClaims(out.Text, in.Language); changed {
			out.Text = rewritten
			out.Action = models.GuardrailSanitize
		}
	}

	if stock := latestStockResult(in.Results); stock != nil && leaksStockCount(out.Text) {
		out.Text = stockAvailabilityReply(stock, in.Language)
		out.Action = models.GuardrailSanitize
	}

	if hasVerification {
		text, field := policy.ApplyVerificationPolicy(out.Text, verificationAskFor, in.Slots, in.Language)
		if text != out.Text {
			out.Text = text
			out.Action = models.GuardrailNeedMinInfo
		}
		if field != "" {
			out.MessageType = models.MessageTypeVerification
		}
	}

	if scrubbed, changed := policy.ScrubPII(out.Text); changed {
		out.Text = scrubbed
		if out.Action == models.GuardrailPass {
			out.Action = models.GuardrailSanitize
		}
	}

	if strings.TrimSpace(out.Text) == "" {
		out.Text = templates.Render(templates.KeyEmptyFallback, in.Language)
		out.Action = models.GuardrailBlock
		out.MessageType = models.MessageTypeAnswer
		return out
	}

	if in.GuidanceUsed && !hasOK && out.Action == models.GuardrailPass {
		out.Action = models.GuardrailNeedMinInfo
	}
	return out
}

func latestStockResult(results []*models.ToolResult) *models.ToolResult {
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if r != nil && r.Outcome == models.OutcomeOK && strings.Contains(r.ToolName, "stock") {
			return r
		}
	}
	return nil
}

func leaksStockCount(text string) bool {
	for _, p := range stockCountPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// stockAvailabilityReply rebuilds the answer from the band the tool reported.
func stockAvailabilityReply(result *models.ToolResult, lang models.Language) string {
	product, _ := result.Data["product"].(string)
	if product == "" {
		product = "Ürün"
		if lang == models.LangEN {
			product = "The product"
		}
	}
	band, _ := result.Data["availability"].(string)
	switch band {
	case models.StockOutOfStock:
		return templates.Render(templates.KeyStockOut, lang, product)
	case models.StockLimited:
		return templates.Render(templates.KeyStockLimited, lang, product)
	default:
		return templates.Render(templates.KeyStockInStock, lang, product)
	}
}

func collectAskFor(results []*models.ToolResult, outcome models.Outcome) []string {
	var askFor []string
	seen := map[string]bool{}
	found := false
	for _, r := range results {
		if r == nil || r.Outcome != outcome {
			continue
		}
		found = true
		for _, field := range r.AskFor {
			if !seen[field] {
				seen[field] = true
				askFor = append(askFor, field)
			}
		}
	}
	if !found {
		return nil
	}
	if askFor == nil {
		askFor = []string{}
	}
	return askFor
}

func hasOutcome(results []*models.ToolResult, outcome models.Outcome) bool {
	for _, r := range results {
		if r != nil && r.Outcome == outcome {
			return true
		}
	}
	return false
}
