package models

import (
	"encoding/json"
	"time"
)

// FlowStatus is the coarse state of a session's active task.
type FlowStatus string

const (
	FlowIdle       FlowStatus = "idle"
	FlowInProgress FlowStatus = "in_progress"
	FlowPostResult FlowStatus = "post_result"
	FlowTerminated FlowStatus = "terminated"
)

// FlowType names the task a session is working through. It constrains which
// tools are exposed to the model and which verification rules apply.
type FlowType string

const (
	FlowOrderStatus     FlowType = "ORDER_STATUS"
	FlowDebtInquiry     FlowType = "DEBT_INQUIRY"
	FlowTrackingInfo    FlowType = "TRACKING_INFO"
	FlowAccountLookup   FlowType = "ACCOUNT_LOOKUP"
	FlowStockCheck      FlowType = "STOCK_CHECK"
	FlowProductInfo     FlowType = "PRODUCT_INFO"
	FlowCallbackRequest FlowType = "CALLBACK_REQUEST"
)

// VerificationStatus tracks the identity-verification sub-state of a session.
type VerificationStatus string

const (
	VerificationNone     VerificationStatus = "none"
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
)

// MaxVerificationAttempts caps failed identity checks before the session
// terminates with an enumeration lock.
const MaxVerificationAttempts = 3

// PostResultResetTurns is how many consecutive post-result follow-ups a
// session absorbs before auto-resetting to idle.
const PostResultResetTurns = 3

// AnchorType tags what kind of truth the session anchor holds.
type AnchorType string

const (
	AnchorStock AnchorType = "STOCK"
	AnchorOrder AnchorType = "ORDER"
	AnchorDebt  AnchorType = "DEBT"
)

// Anchor is the last verified truth for the active flow. The classifier uses
// it to detect disputes and follow-ups; guardrails use it to keep replies
// grounded.
type Anchor struct {
	Type  AnchorType      `json:"type"`
	Truth json.RawMessage `json:"truth,omitempty"`
	At    time.Time       `json:"at"`
}

// Verification is the per-session identity-check sub-state.
type Verification struct {
	Status       VerificationStatus `json:"status"`
	PendingField string             `json:"pending_field,omitempty"`
	Attempts     int                `json:"attempts"`
}

// ToolAttempt is the repeat-attempt ledger entry. Only NOT_FOUND and
// NEED_MORE_INFO outcomes are recorded; entries older than the repeat window
// are ignored by the guard.
type ToolAttempt struct {
	Tool     string    `json:"tool"`
	ArgsHash string    `json:"args_hash"`
	Outcome  Outcome   `json:"outcome"`
	Count    int       `json:"count"`
	AskFor   []string  `json:"ask_for,omitempty"`
	At       time.Time `json:"at"`
}

// Session is the durable per-conversation record. It is loaded once per turn,
// mutated in memory through the pipeline, and written back only by the
// persist stage. Turns against the same session are serialized by the store.
type Session struct {
	ID            string  `json:"id"`
	BusinessID    string  `json:"business_id"`
	Channel       Channel `json:"channel"`
	ChannelUserID string  `json:"channel_user_id"`

	FlowStatus      FlowStatus `json:"flow_status"`
	ActiveFlow      FlowType   `json:"active_flow,omitempty"`
	PostResultTurns int        `json:"post_result_turns"`

	// Slots accumulate across turns; a later extraction for the same slot
	// name overwrites the earlier value.
	Slots map[string]string `json:"slots,omitempty"`

	Anchor          *Anchor      `json:"anchor,omitempty"`
	Verification    Verification `json:"verification"`
	LastToolAttempt *ToolAttempt `json:"last_tool_attempt,omitempty"`

	// LastStockContext survives the post-result auto-reset so deterministic
	// classification can still resolve stock follow-ups like "how many?".
	LastStockContext string `json:"last_stock_context,omitempty"`

	// NotFoundAt is the pruned sliding window of suspicious NOT_FOUND
	// results feeding the enumeration lock.
	NotFoundAt []time.Time `json:"not_found_at,omitempty"`

	TerminationReason string    `json:"termination_reason,omitempty"`
	LockUntil         time.Time `json:"lock_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionKey builds the canonical session lookup key for callers that do not
// pass an explicit session ID.
func SessionKey(channel Channel, businessID, channelUserID string) string {
	return string(channel) + ":" + businessID + ":" + channelUserID
}

// Locked reports whether the session is currently under an enumeration lock.
func (s *Session) Locked(now time.Time) bool {
	return s.FlowStatus == FlowTerminated && !s.LockUntil.IsZero() && now.Before(s.LockUntil)
}

// Terminate moves the session to the terminated state with a lock.
func (s *Session) Terminate(reason string, until time.Time) {
	s.FlowStatus = FlowTerminated
	s.TerminationReason = reason
	s.LockUntil = until
}

// SetSlot records an extracted slot value, allocating the map on first use.
func (s *Session) SetSlot(name, value string) {
	if name == "" || value == "" {
		return
	}
	if s.Slots == nil {
		s.Slots = make(map[string]string)
	}
	s.Slots[name] = value
}

// HasSlot reports whether a non-empty value exists for the slot.
func (s *Session) HasSlot(name string) bool {
	return s.Slots[name] != ""
}
