// Package prompt assembles the system prompt under a token budget. Tool
// results are never truncated; snippets, retrieved examples, and knowledge
// are trimmed in that order until the input fits.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

// KnowledgeKind tags a knowledge item's origin.
type KnowledgeKind string

const (
	KnowledgeFAQ      KnowledgeKind = "FAQ"
	KnowledgeURL      KnowledgeKind = "URL"
	KnowledgeDocument KnowledgeKind = "DOCUMENT"
)

// KnowledgeItem is one business knowledge entry available to the prompt.
type KnowledgeItem struct {
	Kind    KnowledgeKind
	Title   string
	Content string
}

// Input is everything the builder may put into the system prompt.
type Input struct {
	Persona      string
	Now          time.Time
	Timezone     string
	Language     models.Language
	Knowledge    []KnowledgeItem
	StyleProfile string
	// ToolContext holds rendered tool results. Never trimmed.
	ToolContext []string
	// Examples are retrieved few-shot examples. Trimmed second.
	Examples []string
	// Snippets are reusable reply fragments. Trimmed first.
	Snippets []string
	// Grounding holds fact-grounding directives. Never trimmed.
	Grounding   []string
	EntityHints []string
	// Austere builds a minimal prompt for the chatter path.
	Austere bool
}

// Result is the assembled prompt and what survived the budget.
type Result struct {
	System          string
	EstimatedTokens int
	TrimmedSnippets int
	TrimmedExamples int
	TrimmedKB       int
}

// Build assembles the system prompt within the budget.
func Build(in Input, budget Budget) Result {
	core := coreSections(in)

	if in.Austere {
		system := strings.Join(core, "\n\n")
		return Result{System: system, EstimatedTokens: budget.EstimateTokens(system)}
	}

	// Fixed parts first: core, tool results, grounding. These are never
	// trimmed; whatever budget remains is shared by the optional parts.
	fixed := append([]string{}, core...)
	if len(in.ToolContext) > 0 {
		fixed = append(fixed, section("Tool results", in.ToolContext))
	}
	if len(in.Grounding) > 0 {
		fixed = append(fixed, section("Grounding rules", in.Grounding))
	}
	if len(in.EntityHints) > 0 {
		fixed = append(fixed, section("Business context", in.EntityHints))
	}

	used := 0
	for _, s := range fixed {
		used += budget.EstimateTokens(s)
	}
	remaining := budget.Available() - used

	// Trim priority: snippets go first, then examples, then knowledge. So
	// knowledge claims the remaining budget first.
	var result Result
	kbTexts := make([]string, len(in.Knowledge))
	for i, item := range in.Knowledge {
		kbTexts[i] = fmt.Sprintf("[%s] %s: %s", item.Kind, item.Title, item.Content)
	}
	kb, dropped := fit(kbTexts, &remaining, budget)
	result.TrimmedKB = dropped
	examples, dropped := fit(in.Examples, &remaining, budget)
	result.TrimmedExamples = dropped
	snippets, dropped := fit(in.Snippets, &remaining, budget)
	result.TrimmedSnippets = dropped

	parts := append([]string{}, core...)
	if len(kb) > 0 {
		parts = append(parts, section("Knowledge base", kb))
	}
	if in.StyleProfile != "" {
		parts = append(parts, "Writing style:\n"+in.StyleProfile)
	}
	if len(in.ToolContext) > 0 {
		parts = append(parts, section("Tool results", in.ToolContext))
	}
	if len(examples) > 0 {
		parts = append(parts, section("Examples", examples))
	}
	if len(snippets) > 0 {
		parts = append(parts, section("Snippets", snippets))
	}
	if len(in.Grounding) > 0 {
		parts = append(parts, section("Grounding rules", in.Grounding))
	}
	if len(in.EntityHints) > 0 {
		parts = append(parts, section("Business context", in.EntityHints))
	}

	result.System = strings.Join(parts, "\n\n")
	result.EstimatedTokens = budget.EstimateTokens(result.System)
	return result
}

func coreSections(in Input) []string {
	core := []string{}
	if in.Persona != "" {
		core = append(core, in.Persona)
	}
	if !in.Now.IsZero() {
		tz := in.Timezone
		if tz == "" {
			tz = "UTC"
		}
		core = append(core, fmt.Sprintf("Current date and time: %s (%s)", in.Now.Format("2006-01-02 15:04"), tz))
	}
	switch in.Language {
	case models.LangTR:
		core = append(core, "Respond in Turkish.")
	case models.LangEN:
		core = append(core, "Respond in English.")
	}
	return core
}

// fit keeps items in order while they fit the remaining budget; the rest are
// dropped. Returns the surviving items and the dropped count.
func fit(items []string, remaining *int, budget Budget) ([]string, int) {
	var kept []string
	dropped := 0
	for _, item := range items {
		cost := budget.EstimateTokens(item)
		if cost > *remaining {
			dropped++
			continue
		}
		*remaining -= cost
		kept = append(kept, item)
	}
	return kept, dropped
}

func section(title string, items []string) string {
	return title + ":\n" + strings.Join(items, "\n---\n")
}
