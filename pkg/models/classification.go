package models

// IntentType is the classified purpose of an inbound message.
type IntentType string

const (
	IntentOrder       IntentType = "ORDER"
	IntentBilling     IntentType = "BILLING"
	IntentAppointment IntentType = "APPOINTMENT"
	IntentComplaint   IntentType = "COMPLAINT"
	IntentTracking    IntentType = "TRACKING"
	IntentPricing     IntentType = "PRICING"
	IntentStock       IntentType = "STOCK"
	IntentReturn      IntentType = "RETURN"
	IntentRefund      IntentType = "REFUND"
	IntentAccount     IntentType = "ACCOUNT"
	IntentCallback    IntentType = "CALLBACK"
	IntentChatter     IntentType = "CHATTER"
	IntentDispute     IntentType = "DISPUTE"
	IntentOther       IntentType = "OTHER"
)

// Classification is the classifier output for one turn. Failed marks a
// fail-closed classification (timeout or error): confidence is zero and
// downstream stages gate tools conservatively.
type Classification struct {
	Type          IntentType        `json:"type"`
	Confidence    float64           `json:"confidence"`
	Slots         map[string]string `json:"slots,omitempty"`
	SuggestedFlow FlowType          `json:"suggested_flow,omitempty"`
	Failed        bool              `json:"failed,omitempty"`
}

// SafeFallback is the classification used when the classifier times out or
// errors. Downstream interpretation: conservative gating, no free tool use.
func SafeFallback() Classification {
	return Classification{Type: IntentOther, Confidence: 0, Failed: true}
}
