package models

import "time"

// Role indicates the transcript entry author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Grounding classifies whether an assistant message is supported by tool
// data, an honest non-answer, or a scope refusal.
type Grounding string

const (
	GroundingGrounded      Grounding = "GROUNDED"
	GroundingClarification Grounding = "CLARIFICATION"
	GroundingOutOfScope    Grounding = "OUT_OF_SCOPE"
)

// GuardrailAction records what the post-draft guardrails did to a reply.
type GuardrailAction string

const (
	GuardrailPass           GuardrailAction = "PASS"
	GuardrailSanitize       GuardrailAction = "SANITIZE"
	GuardrailBlock          GuardrailAction = "BLOCK"
	GuardrailNeedMinInfo    GuardrailAction = "NEED_MIN_INFO_FOR_TOOL"
)

// MessageType labels the routing class a reply was produced under.
type MessageType string

const (
	MessageTypeAnswer        MessageType = "answer"
	MessageTypeChatter       MessageType = "chatter"
	MessageTypeClarification MessageType = "clarification"
	MessageTypeVerification  MessageType = "verification"
	MessageTypeSystemBarrier MessageType = "system_barrier"
	MessageTypeLockNotice    MessageType = "lock_notice"
)

// TranscriptEntry is one append-only message under a session. Assistant
// entries carry grounding and guardrail metadata; the names of any tools the
// turn invoked ride along for audit.
type TranscriptEntry struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	Role            Role            `json:"role"`
	Content         string          `json:"content"`
	Grounding       Grounding       `json:"grounding,omitempty"`
	MessageType     MessageType     `json:"message_type,omitempty"`
	GuardrailAction GuardrailAction `json:"guardrail_action,omitempty"`
	ToolCalls       []string        `json:"tool_calls,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
