package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/convoflow/convoflow/internal/llm"
	"github.com/convoflow/convoflow/pkg/models"
)

const classifierSystemPrompt = `You classify customer-support messages. Respond with ONLY a JSON object:
{"type": "<ORDER|BILLING|APPOINTMENT|COMPLAINT|TRACKING|PRICING|STOCK|RETURN|REFUND|ACCOUNT|CALLBACK|CHATTER|DISPUTE|OTHER>",
 "confidence": <0.0-1.0>,
 "slots": {"slot_name": "value"}}
Known slot names: order_number, phone, phone_last4, email, customer_name, vkn, tracking_number, product.
Classify based on what the user wants, not surface keywords. Messages may be Turkish or English.`

// LLMClassifier asks the model for an intent when the rules cannot decide.
type LLMClassifier struct {
	provider llm.Provider
	model    string
}

// NewLLMClassifier creates a model-backed classifier. model may be empty to
// use the provider default.
func NewLLMClassifier(provider llm.Provider, model string) *LLMClassifier {
	return &LLMClassifier{provider: provider, model: model}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, in Input) (models.Classification, error) {
	var user strings.Builder
	if in.LastAssistant != "" {
		user.WriteString("Assistant previously said: ")
		user.WriteString(in.LastAssistant)
		user.WriteString("\n")
	}
	if in.Session != nil && in.Session.ActiveFlow != "" {
		fmt.Fprintf(&user, "Active flow: %s\n", in.Session.ActiveFlow)
	}
	user.WriteString("User message: ")
	user.WriteString(in.Text)

	resp, err := c.provider.Complete(ctx, &llm.Request{
		Model:     c.model,
		System:    classifierSystemPrompt,
		Messages:  []llm.Message{{Role: "user", Content: user.String()}},
		MaxTokens: 256,
	})
	if err != nil {
		return models.SafeFallback(), err
	}
	return parseClassification(resp.Text)
}

// parseClassification decodes the model's JSON, tolerating fenced code
// blocks and clamping confidence into [0,1].
func parseClassification(raw string) (models.Classification, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "{"); i >= 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			raw = raw[i : j+1]
		}
	}

	var result models.Classification
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return models.SafeFallback(), fmt.Errorf("classify: bad model output: %w", err)
	}
	switch result.Type {
	case models.IntentOrder, models.IntentBilling, models.IntentAppointment,
		models.IntentComplaint, models.IntentTracking, models.IntentPricing,
		models.IntentStock, models.IntentReturn, models.IntentRefund,
		models.IntentAccount, models.IntentCallback, models.IntentChatter,
		models.IntentDispute, models.IntentOther:
	default:
		return models.SafeFallback(), fmt.Errorf("classify: unknown intent %q", result.Type)
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result, nil
}
