package tools

import (
	"strings"
	"testing"

	"github.com/convoflow/convoflow/pkg/models"
)

func TestSanitizeDropsDataOnFailure(t *testing.T) {
	result := &models.ToolResult{
		Outcome: models.OutcomeNotFound,
		Data:    map[string]any{"order_number": "ORD-1"},
	}
	Sanitize(result, models.CatalogEntry{}, 3000)
	if result.Data != nil {
		t.Error("non-OK results must not carry data to the model")
	}
}

func TestSanitizeRemovesExcludedFields(t *testing.T) {
	result := &models.ToolResult{
		Outcome: models.OutcomeOK,
		Data: map[string]any{
			"status":     "shipped",
			"createdAt":  "2026-01-01",
			"password":   "hunter2",
			"apiToken":   "sk-xyz",
			"metadata":   map[string]any{"internal": true},
			"customerId": "c-1",
		},
	}
	Sanitize(result, models.CatalogEntry{}, 3000)
	for _, leaked := range []string{"createdAt", "password", "apiToken", "metadata"} {
		if _, ok := result.Data[leaked]; ok {
			t.Errorf("excluded field %s survived sanitization", leaked)
		}
	}
	if result.Data["status"] != "shipped" {
		t.Error("legitimate fields should survive")
	}
}

func TestSanitizeStripsHTMLFromProse(t *testing.T) {
	result := &models.ToolResult{
		Outcome: models.OutcomeOK,
		Data: map[string]any{
			"description": "<p>Soft <b>wool</b> sweater</p>",
			"sku":         "<keep-as-is>",
		},
	}
	Sanitize(result, models.CatalogEntry{}, 3000)
	if got := result.Data["description"]; got != "Soft wool sweater" {
		t.Errorf("HTML should be stripped from prose fields, got %q", got)
	}
}

func TestSanitizeMasksPIIInStrings(t *testing.T) {
	result := &models.ToolResult{
		Outcome: models.OutcomeOK,
		Data:    map[string]any{"note": "TC 12345678901 ile kayıtlı"},
	}
	Sanitize(result, models.CatalogEntry{}, 3000)
	if s, _ := result.Data["note"].(string); strings.Contains(s, "12345678901") {
		t.Errorf("national ID leaked through sanitization: %q", s)
	}
}

func TestSanitizeWhitelistOrderAndMissing(t *testing.T) {
	entry := models.CatalogEntry{
		FieldWhitelist: models.FieldWhitelist{
			Required: []string{"order_number", "status"},
			Priority: []string{"items"},
			Optional: []string{"gift_note"},
		},
	}
	result := &models.ToolResult{
		Outcome: models.OutcomeOK,
		Data: map[string]any{
			"order_number": "ORD-1",
			"items":        "2x sweater",
			"gift_note":    "none",
			"carrier":      "not whitelisted",
		},
	}
	Sanitize(result, entry, 3000)

	if _, ok := result.Data["carrier"]; ok {
		t.Error("fields outside the whitelist must be dropped")
	}
	if result.Data["order_number"] != "ORD-1" || result.Data["items"] != "2x sweater" {
		t.Errorf("whitelisted fields should be kept, got %v", result.Data)
	}
	if len(result.MissingFields) != 1 || result.MissingFields[0] != "status" {
		t.Errorf("absent required field should be flagged, got %v", result.MissingFields)
	}
}

func TestSanitizeTokenCap(t *testing.T) {
	entry := models.CatalogEntry{
		FieldWhitelist: models.FieldWhitelist{
			Required: []string{"id"},
			Priority: []string{"big"},
			Optional: []string{"small"},
		},
	}
	result := &models.ToolResult{
		Outcome: models.OutcomeOK,
		Data: map[string]any{
			"id":    "x",
			"big":   strings.Repeat("a", 2000),
			"small": "fits",
		},
	}
	// Cap of 100 tokens = ~400 chars: big does not fit, small does.
	Sanitize(result, entry, 100)
	if _, ok := result.Data["big"]; ok {
		t.Error("field over the token cap should be dropped")
	}
	if result.Data["small"] != "fits" {
		t.Error("later field that fits should still be kept")
	}
	if result.Data["id"] != "x" {
		t.Error("required fields are always kept")
	}
}
