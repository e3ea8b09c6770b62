package tools

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/convoflow/convoflow/internal/policy"
	"github.com/convoflow/convoflow/pkg/models"
)

// Field name fragments that never reach the model, regardless of whitelist.
var excludedFieldFragments = []string{
	"password", "token", "secret", "apikey", "api_key", "authorization",
	"createdat", "created_at", "updatedat", "updated_at", "metadata",
	"internalid", "internal_id",
}

// Fields holding prose that may carry markup.
var htmlProneFields = map[string]bool{
	"description": true, "content": true, "body": true, "note": true,
	"notes": true, "details": true, "message": true,
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

const approxCharsPerToken = 4

// Sanitize rewrites a tool result in place before it is shown to the model:
// excluded fields dropped, HTML stripped, PII masked, the per-tool field
// whitelist applied in required, priority, optional order, and the payload
// capped at tokenCap tokens. Non-OK outcomes lose their data entirely.
// Required whitelist fields absent from the payload are recorded on
// MissingFields.
func Sanitize(result *models.ToolResult, entry models.CatalogEntry, tokenCap int) {
	if result == nil {
		return
	}
	if result.Outcome != models.OutcomeOK {
		result.Data = nil
		return
	}
	if tokenCap <= 0 {
		tokenCap = 3000
	}

	data := result.Data
	for name := range data {
		if excludedField(name) {
			delete(data, name)
		}
	}
	for name, value := range data {
		if s, ok := value.(string); ok {
			if htmlProneFields[strings.ToLower(name)] {
				s = htmlTagPattern.ReplaceAllString(s, "")
			}
			s, _ = policy.ScrubPII(s)
			data[name] = s
		}
	}

	wl := entry.FieldWhitelist
	if len(wl.Required)+len(wl.Priority)+len(wl.Optional) == 0 {
		result.Data = capFields(data, nil, tokenCap)
		return
	}

	kept := make(map[string]any, len(data))
	budget := tokenCap * approxCharsPerToken

	// Required fields are always kept and always flagged when absent.
	for _, name := range wl.Required {
		if value, ok := data[name]; ok {
			kept[name] = value
			budget -= fieldCost(name, value)
		} else {
			result.MissingFields = append(result.MissingFields, name)
		}
	}
	for _, name := range wl.Priority {
		budget = keepIfFits(data, kept, name, budget)
	}
	for _, name := range wl.Optional {
		budget = keepIfFits(data, kept, name, budget)
	}
	result.Data = kept
}

func keepIfFits(data, kept map[string]any, name string, budget int) int {
	if _, already := kept[name]; already {
		return budget
	}
	value, ok := data[name]
	if !ok {
		return budget
	}
	cost := fieldCost(name, value)
	if cost > budget {
		return budget
	}
	kept[name] = value
	return budget - cost
}

// capFields keeps fields in stable order until the cap is reached. Used when
// a tool declares no whitelist.
func capFields(data map[string]any, order []string, tokenCap int) map[string]any {
	if order == nil {
		order = make([]string, 0, len(data))
		for name := range data {
			order = append(order, name)
		}
		// Deterministic order so the cap cuts the same fields every turn.
		sort.Strings(order)
	}
	budget := tokenCap * approxCharsPerToken
	kept := make(map[string]any, len(data))
	for _, name := range order {
		value, ok := data[name]
		if !ok {
			continue
		}
		cost := fieldCost(name, value)
		if cost > budget {
			continue
		}
		kept[name] = value
		budget -= cost
	}
	return kept
}

func fieldCost(name string, value any) int {
	raw, err := json.Marshal(value)
	if err != nil {
		return len(name)
	}
	return len(name) + len(raw)
}

func excludedField(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range excludedFieldFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
