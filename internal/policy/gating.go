// Package policy is the pure-function kernel behind the turn pipeline: tool
// gating, tool-required enforcement, action-claim rewriting, verification
// prompts, PII redaction, the enumeration lock, and the repeat-attempt
// guard. Nothing here performs I/O or mutates shared state; callers apply
// the returned decisions.
package policy

import (
	"github.com/convoflow/convoflow/pkg/models"
)

// Tool names with special gating behavior. The catalog itself is provided
// at init; gating matches on these well-known names when present.
const (
	ToolCustomerDataLookup = "customer_data_lookup"
	ToolCreateCallback     = "create_callback"
	ToolStockLookup        = "stock_lookup"
	ToolProductInfo        = "product_info"
)

// GateTools selects the allowlist of catalog tools exposed to the model for
// this turn.
//
// Rules, in order:
//  1. KB_ONLY channels get no tools at all.
//  2. A pending verification excludes stock/product tools; identity flows
//     must not leak availability data mid-check.
//  3. Stock and product flows exclude customer_data_lookup.
//  4. CALLBACK_REQUEST exposes only create_callback.
//  5. With no inferable flow, the full catalog is allowed.
func GateTools(catalog []models.CatalogEntry, flow models.FlowType, mode models.ChannelMode, verification models.Verification) []models.CatalogEntry {
	if mode == models.ModeKBOnly {
		return nil
	}

	allowed := make([]models.CatalogEntry, 0, len(catalog))
	for _, entry := range catalog {
		if verification.Status == models.VerificationPending {
			if entry.Name == ToolStockLookup || entry.Name == ToolProductInfo {
				continue
			}
		}
		switch flow {
		case models.FlowStockCheck, models.FlowProductInfo:
			if entry.Name == ToolCustomerDataLookup {
				continue
			}
		case models.FlowCallbackRequest:
			if entry.Name != ToolCreateCallback {
				continue
			}
		}
		allowed = append(allowed, entry)
	}
	return allowed
}

// toolRequiredIntents are intents whose reply may not assert facts without
// at least one successful tool result.
var toolRequiredIntents = map[models.IntentType]bool{
	models.IntentOrder:       true,
	models.IntentBilling:     true,
	models.IntentAppointment: true,
	models.IntentComplaint:   true,
	models.IntentTracking:    true,
	models.IntentPricing:     true,
	models.IntentStock:       true,
	models.IntentReturn:      true,
	models.IntentRefund:      true,
	models.IntentAccount:     true,
}

// RequiresTool reports whether the intent may not assert facts without a
// successful tool result.
func RequiresTool(intent models.IntentType) bool {
	return toolRequiredIntents[intent]
}

// HasSuccessfulResult reports whether any collected result is OK.
func HasSuccessfulResult(results []*models.ToolResult) bool {
	for _, r := range results {
		if r != nil && r.Outcome == models.OutcomeOK {
			return true
		}
	}
	return false
}
