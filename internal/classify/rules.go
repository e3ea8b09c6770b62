package classify

import (
	"regexp"
	"strings"

	"github.com/convoflow/convoflow/pkg/models"
)

var (
	greetingPattern = regexp.MustCompile(`(?i)^\s*(merhaba|selam|günaydın|iyi günler|iyi akşamlar|teşekkürler|teşekkür ederim|sağol(un)?|hello|hi|hey|good (morning|afternoon|evening)|thanks|thank you)[\s.!?]*$`)

	disputePattern = regexp.MustCompile(`(?i)(hayır[, ]|yanlış|doğru değil|öyle değil|emin misin|that'?s (wrong|not right)|no[, ]+it'?s not|are you sure|incorrect)`)

	stockFollowUpPattern = regexp.MustCompile(`(?i)(kaç (adet|tane)|ne kadar var|stokta var mı|how many|in stock|any left)`)

	slotPatterns = map[string]*regexp.Regexp{
		"order_number":    regexp.MustCompile(`(?i)\b(?:ORD|SIP|SP)[-_]?\d{3,12}\b`),
		"tracking_number": regexp.MustCompile(`(?i)\b(?:TRK|TRACK)[-_]?\d{6,16}\b`),
		"email":           regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
		"phone":           regexp.MustCompile(`\b(?:\+90|0)?5\d{9}\b`),
		"vkn":             regexp.MustCompile(`\bvkn[:\s]*(\d{10})\b`),
	}

	intentKeywords = []struct {
		pattern *regexp.Regexp
		intent  models.IntentType
		flow    models.FlowType
	}{
		{regexp.MustCompile(`(?i)(sipariş|order)`), models.IntentOrder, models.FlowOrderStatus},
		{regexp.MustCompile(`(?i)(kargo|takip|tracking|shipment)`), models.IntentTracking, models.FlowTrackingInfo},
		{regexp.MustCompile(`(?i)(fatura|borç|ödeme|billing|invoice|debt)`), models.IntentBilling, models.FlowDebtInquiry},
		{regexp.MustCompile(`(?i)(stok|stock|mevcut mu)`), models.IntentStock, models.FlowStockCheck},
		{regexp.MustCompile(`(?i)(para iadesi|geri ödeme|refund)`), models.IntentRefund, ""},
		{regexp.MustCompile(`(?i)(iade|return)`), models.IntentReturn, ""},
		{regexp.MustCompile(`(?i)(randevu|appointment)`), models.IntentAppointment, ""},
		{regexp.MustCompile(`(?i)(şikayet|complaint)`), models.IntentComplaint, ""},
		{regexp.MustCompile(`(?i)(fiyat|ücret|price|cost)`), models.IntentPricing, models.FlowProductInfo},
		{regexp.MustCompile(`(?i)(hesab|hesap|account)`), models.IntentAccount, models.FlowAccountLookup},
		{regexp.MustCompile(`(?i)(beni aray|geri aray|call me back|callback)`), models.IntentCallback, models.FlowCallbackRequest},
	}
)

// RuleClassifier is the deterministic first pass. It only claims a turn it
// can classify with certainty; anything ambiguous falls through to the
// backing classifier.
type RuleClassifier struct{}

// NewRuleClassifier creates the rule pass.
func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

// Apply runs the rules and reports whether they claimed the turn.
func (r *RuleClassifier) Apply(in Input) (models.Classification, bool) {
	text := strings.TrimSpace(in.Text)

	if greetingPattern.MatchString(text) {
		return models.Classification{Type: models.IntentChatter, Confidence: 0.99}, true
	}

	// Disputes only make sense against an established truth.
	if in.Session != nil && in.Session.Anchor != nil && disputePattern.MatchString(text) {
		return models.Classification{Type: models.IntentDispute, Confidence: 0.95}, true
	}

	// Stock follow-ups survive the post-result reset through
	// LastStockContext.
	if in.Session != nil && in.Session.LastStockContext != "" && stockFollowUpPattern.MatchString(text) {
		return models.Classification{
			Type:          models.IntentStock,
			Confidence:    0.9,
			SuggestedFlow: models.FlowStockCheck,
			Slots:         map[string]string{"product": in.Session.LastStockContext},
		}, true
	}

	// A keyword hit with an extracted identifier is unambiguous enough to
	// skip the LLM.
	slots := ExtractSlots(text)
	for _, kw := range intentKeywords {
		if !kw.pattern.MatchString(text) {
			continue
		}
		if len(slots) == 0 && kw.intent != models.IntentCallback {
			break
		}
		return models.Classification{
			Type:          kw.intent,
			Confidence:    0.9,
			Slots:         slots,
			SuggestedFlow: kw.flow,
		}, true
	}

	return models.Classification{}, false
}

// ExtractSlots pulls structured identifiers out of free text.
func ExtractSlots(text string) map[string]string {
	var slots map[string]string
	for name, pattern := range slotPatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := m[0]
		if len(m) > 1 {
			value = m[1]
		}
		if slots == nil {
			slots = make(map[string]string)
		}
		slots[name] = strings.ToUpper(strings.TrimSpace(value))
		if name == "email" || name == "phone" || name == "vkn" {
			slots[name] = strings.ToLower(strings.TrimSpace(value))
		}
	}
	return slots
}
