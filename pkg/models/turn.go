package models

import "time"

// Channel identifies the inbound messaging surface a turn arrived on.
type Channel string

const (
	ChannelPhone    Channel = "phone"
	ChannelChat     Channel = "chat"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// ChannelMode restricts what a channel is allowed to do.
type ChannelMode string

const (
	// ModeFull allows the full tool catalog for the channel.
	ModeFull ChannelMode = "full"
	// ModeKBOnly restricts the channel to knowledge-base answers: no tools,
	// personal-data questions are redirected to curated help links.
	ModeKBOnly ChannelMode = "kb_only"
)

// Language is the conversation language for a turn.
type Language string

const (
	LangTR Language = "TR"
	LangEN Language = "EN"
)

// TurnRequest is the inbound contract for one turn of conversation.
// MessageID must be stable across retries of the same inbound message; it is
// the idempotency anchor for tool execution.
type TurnRequest struct {
	Channel       Channel        `json:"channel"`
	ChannelMode   ChannelMode    `json:"channel_mode,omitempty"`
	BusinessID    string         `json:"business_id"`
	ChannelUserID string         `json:"channel_user_id"`
	SessionID     string         `json:"session_id,omitempty"`
	MessageID     string         `json:"message_id"`
	Text          string         `json:"text"`
	Language      Language       `json:"language"`
	Timezone      string         `json:"timezone,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	DryRun        bool           `json:"dry_run,omitempty"`
}

// TurnResult is the outbound contract for one turn.
type TurnResult struct {
	Reply            string    `json:"reply"`
	ShouldEndSession bool      `json:"should_end_session"`
	ForceEnd         bool      `json:"force_end"`
	State            *Session  `json:"state,omitempty"`
	InputTokens      int       `json:"input_tokens"`
	OutputTokens     int       `json:"output_tokens"`
	Debug            TurnDebug `json:"debug"`
}

// TurnDebug carries per-turn diagnostics surfaced to callers and logs.
type TurnDebug struct {
	Classification  string          `json:"classification"`
	Confidence      float64         `json:"confidence"`
	RoutingAction   string          `json:"routing_action"`
	ToolsCalled     []string        `json:"tools_called,omitempty"`
	Grounding       Grounding       `json:"grounding"`
	GuardrailAction GuardrailAction `json:"guardrail_action"`
	TurnDuration    time.Duration   `json:"turn_duration"`
}
