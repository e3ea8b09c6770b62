package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

// identifierSlots are slot names whose arrival counts as new identifying
// information, lifting the repeat-attempt block.
var identifierSlots = []string{
	"order_number", "phone", "phone_last4", "email", "customer_name", "vkn", "tracking_number",
}

// ArgsHash canonicalizes tool arguments and returns a stable short hash:
// keys sorted, string values trimmed and lowercased, SHA-256 prefix.
func ArgsHash(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		switch v := args[k].(type) {
		case string:
			b.WriteString(strings.ToLower(strings.TrimSpace(v)))
		default:
			raw, _ := json.Marshal(v)
			b.Write(raw)
		}
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// RepeatDecision is the outcome of the repeat-attempt check.
type RepeatDecision struct {
	// Blocked means the call must be short-circuited without execution.
	Blocked bool
	// AskFor carries the clarification fields from the original attempt.
	AskFor []string
	// PriorOutcome is the outcome that originally stalled progress.
	PriorOutcome models.Outcome
}

// CheckRepeat decides whether a tool call repeats a fruitless attempt.
// A call is blocked when the same (tool, argsHash) previously ended in
// NOT_FOUND or NEED_MORE_INFO inside the window and this turn extracted no
// new identifier slot.
func CheckRepeat(last *models.ToolAttempt, tool, argsHash string, newSlots map[string]string, window time.Duration, now time.Time) RepeatDecision {
	if last == nil {
		return RepeatDecision{}
	}
	if last.Tool != tool || last.ArgsHash != argsHash {
		return RepeatDecision{}
	}
	if last.Outcome != models.OutcomeNotFound && last.Outcome != models.OutcomeNeedMoreInfo {
		return RepeatDecision{}
	}
	if now.Sub(last.At) > window {
		return RepeatDecision{}
	}
	if hasIdentifier(newSlots) {
		return RepeatDecision{}
	}
	return RepeatDecision{Blocked: true, AskFor: last.AskFor, PriorOutcome: last.Outcome}
}

// hasIdentifier reports whether the turn's freshly extracted slots include
// identifying information.
func hasIdentifier(newSlots map[string]string) bool {
	for _, name := range identifierSlots {
		if newSlots[name] != "" {
			return true
		}
	}
	return false
}

// RecordAttempt updates the repeat-attempt ledger for an outcome. Only
// NOT_FOUND and NEED_MORE_INFO are recorded; anything else clears the entry
// because progress was made (or failure is terminal anyway).
func RecordAttempt(session *models.Session, tool, argsHash string, result *models.ToolResult, now time.Time) {
	if result.Outcome != models.OutcomeNotFound && result.Outcome != models.OutcomeNeedMoreInfo {
		session.LastToolAttempt = nil
		return
	}
	if prev := session.LastToolAttempt; prev != nil && prev.Tool == tool && prev.ArgsHash == argsHash && prev.Outcome == result.Outcome {
		prev.Count++
		prev.At = now
		prev.AskFor = result.AskFor
		return
	}
	session.LastToolAttempt = &models.ToolAttempt{
		Tool:     tool,
		ArgsHash: argsHash,
		Outcome:  result.Outcome,
		Count:    1,
		AskFor:   result.AskFor,
		At:       now,
	}
}
