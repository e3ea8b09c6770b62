package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

func TestBuildIncludesCoreSections(t *testing.T) {
	in := Input{
		Persona:  "You are the support assistant for Acme.",
		Now:      time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC),
		Timezone: "Europe/Istanbul",
		Language: models.LangTR,
	}
	got := Build(in, LargeModelBudget())
	for _, want := range []string{"Acme", "2026-08-24 14:30", "Europe/Istanbul", "Respond in Turkish."} {
		if !strings.Contains(got.System, want) {
			t.Errorf("system prompt missing %q:\n%s", want, got.System)
		}
	}
}

func TestBuildNeverTrimsToolResults(t *testing.T) {
	big := strings.Repeat("x", 4000) // ~1000 tokens each
	in := Input{
		Persona:     "p",
		ToolContext: []string{big, big},
		Snippets:    []string{big},
		Examples:    []string{big},
	}
	budget := Budget{CharsPerToken: 4, InputTokens: 2_200, OutputTokens: 500}

	got := Build(in, budget)
	if strings.Count(got.System, big) < 2 {
		t.Error("tool results must survive even when over budget")
	}
	if got.TrimmedSnippets != 1 || got.TrimmedExamples != 1 {
		t.Errorf("optional sections should be trimmed, got snippets=%d examples=%d",
			got.TrimmedSnippets, got.TrimmedExamples)
	}
}

func TestBuildTrimOrderSnippetsFirst(t *testing.T) {
	item := strings.Repeat("y", 2000) // 500 tokens each
	in := Input{
		Persona:   "p",
		Snippets:  []string{item},
		Examples:  []string{item},
		Knowledge: []KnowledgeItem{{Kind: KnowledgeFAQ, Title: "t", Content: item}},
	}
	// Room for roughly one optional item.
	budget := Budget{CharsPerToken: 4, InputTokens: 600, OutputTokens: 100}

	got := Build(in, budget)
	if got.TrimmedKB != 0 {
		t.Errorf("knowledge has highest keep priority, trimmed %d", got.TrimmedKB)
	}
	if got.TrimmedSnippets != 1 {
		t.Error("snippets should be sacrificed first")
	}
}

func TestBuildAustere(t *testing.T) {
	in := Input{
		Persona:   "p",
		Language:  models.LangEN,
		Austere:   true,
		Knowledge: []KnowledgeItem{{Kind: KnowledgeFAQ, Title: "t", Content: "c"}},
		Snippets:  []string{"snip"},
	}
	got := Build(in, AustereBudget())
	if strings.Contains(got.System, "snip") || strings.Contains(got.System, "Knowledge base") {
		t.Errorf("austere prompt must carry only the core:\n%s", got.System)
	}
	if !strings.Contains(got.System, "Respond in English.") {
		t.Error("language directive belongs to the core")
	}
}

func TestEstimateTokens(t *testing.T) {
	b := Budget{CharsPerToken: 4}
	if got := b.EstimateTokens(strings.Repeat("a", 8)); got != 2 {
		t.Errorf("8 chars at 4 cpt should be 2 tokens, got %d", got)
	}
	if got := b.EstimateTokens("abcde"); got != 2 {
		t.Errorf("estimation should round up, got %d", got)
	}
	if got := b.EstimateTokens(""); got != 0 {
		t.Errorf("empty string is 0 tokens, got %d", got)
	}
}

func TestCalibratorRollingError(t *testing.T) {
	c := NewCalibrator(10)
	if got := c.RollingError(); got != 0 {
		t.Errorf("no samples should mean zero error, got %f", got)
	}

	// Estimates running 10% high.
	for i := 0; i < 5; i++ {
		c.Record(110, 100)
	}
	got := c.RollingError()
	if got < 0.09 || got > 0.11 {
		t.Errorf("expected ~0.10 rolling error, got %f", got)
	}

	c.Record(0, 100) // ignored
	if c.Samples() != 5 {
		t.Errorf("invalid samples must be ignored, got %d", c.Samples())
	}
}
