package models

import (
	"encoding/json"
	"strings"
)

// Outcome is the typed result class every tool must report. Tool-layer
// errors are mapped into outcomes at the source; they never propagate as Go
// errors out of the tool layer.
type Outcome string

const (
	OutcomeOK                   Outcome = "OK"
	OutcomeNotFound             Outcome = "NOT_FOUND"
	OutcomeNeedMoreInfo         Outcome = "NEED_MORE_INFO"
	OutcomeVerificationRequired Outcome = "VERIFICATION_REQUIRED"
	OutcomeDenied               Outcome = "DENIED"
	OutcomeInfraError           Outcome = "INFRA_ERROR"
)

// Terminal reports whether the outcome short-circuits the tool loop.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeNotFound, OutcomeDenied, OutcomeInfraError:
		return true
	}
	return false
}

// legacyOutcomes maps outcome spellings from older tool implementations onto
// the enum. Unknown spellings normalize to INFRA_ERROR so a misbehaving tool
// can never smuggle data past sanitization.
var legacyOutcomes = map[string]Outcome{
	"ok":                    OutcomeOK,
	"success":               OutcomeOK,
	"found":                 OutcomeOK,
	"not_found":             OutcomeNotFound,
	"notfound":              OutcomeNotFound,
	"missing":               OutcomeNotFound,
	"need_more_info":        OutcomeNeedMoreInfo,
	"needmoreinfo":          OutcomeNeedMoreInfo,
	"incomplete":            OutcomeNeedMoreInfo,
	"verification_required": OutcomeVerificationRequired,
	"verify":                OutcomeVerificationRequired,
	"denied":                OutcomeDenied,
	"forbidden":             OutcomeDenied,
	"infra_error":           OutcomeInfraError,
	"error":                 OutcomeInfraError,
}

// NormalizeOutcome maps a raw outcome string onto the Outcome enum.
func NormalizeOutcome(raw string) Outcome {
	if o, ok := legacyOutcomes[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return o
	}
	switch Outcome(raw) {
	case OutcomeOK, OutcomeNotFound, OutcomeNeedMoreInfo,
		OutcomeVerificationRequired, OutcomeDenied, OutcomeInfraError:
		return Outcome(raw)
	}
	return OutcomeInfraError
}

// StateEventType names a declarative state-machine transition a tool may
// request. The policy kernel applies events; tools never mutate the session.
type StateEventType string

const (
	EventSetFlow             StateEventType = "set_flow"
	EventSetFlowStatus       StateEventType = "set_flow_status"
	EventSetSlot             StateEventType = "set_slot"
	EventRequireVerification StateEventType = "require_verification"
	EventClearVerification   StateEventType = "clear_verification"
	EventTerminate           StateEventType = "terminate"
)

// StateEvent is one declarative transition attached to a tool result.
type StateEvent struct {
	Type  StateEventType `json:"type"`
	Flow  FlowType       `json:"flow,omitempty"`
	Field string         `json:"field,omitempty"`
	Value string         `json:"value,omitempty"`
}

// ToolResult is the contract every tool returns. Data is meaningful only for
// OK outcomes; sanitization guarantees nothing else reaches the model.
// Message is always present and is what the model (or the user, on terminal
// short-circuits) sees.
// Availability bands for stock answers. Exact counts never leave the tool
// layer; the assistant only ever shares the band.
const (
	StockInStock    = "in_stock"
	StockLimited    = "limited"
	StockOutOfStock = "out_of_stock"
)

type ToolResult struct {
	ToolName    string         `json:"tool_name"`
	Outcome     Outcome        `json:"outcome"`
	Data        map[string]any `json:"data,omitempty"`
	Message     string         `json:"message"`
	AskFor      []string       `json:"ask_for,omitempty"`
	StateEvents []StateEvent   `json:"state_events,omitempty"`

	// MissingFields lists whitelist-required fields absent after
	// sanitization; set by the sanitizer, never by tools.
	MissingFields []string `json:"-"`
}

// ToolCall is the model's request to execute a catalog tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Preconditions declares what must already be known before a tool runs.
// Guidance holds the per-language prompt sent back to the model when a
// required slot is missing, instead of executing the tool.
type Preconditions struct {
	RequiredSlots []string            `json:"required_slots,omitempty"`
	Guidance      map[Language]string `json:"guidance,omitempty"`
}

// FieldWhitelist orders which payload fields survive sanitization. Required
// fields are always kept (and flagged if absent), then priority, then
// optional fields as the per-tool token cap allows.
type FieldWhitelist struct {
	Required []string `json:"required,omitempty"`
	Priority []string `json:"priority,omitempty"`
	Optional []string `json:"optional,omitempty"`
}

// CatalogEntry describes one tool as exposed to the orchestrator. The
// catalog is provided at init and read-only at turn time.
type CatalogEntry struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	ParameterSchema json.RawMessage `json:"parameter_schema,omitempty"`
	Preconditions   Preconditions   `json:"preconditions"`
	FieldWhitelist  FieldWhitelist  `json:"field_whitelist"`
}
