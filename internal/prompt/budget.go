package prompt

// Budget is the token envelope for one request. Estimation uses a flat
// chars-per-token ratio; the calibrator refines it against provider counts.
type Budget struct {
	CharsPerToken int
	InputTokens   int
	OutputTokens  int
	SafetyBuffer  int
}

// LargeModelBudget is the default envelope for frontier models.
func LargeModelBudget() Budget {
	return Budget{CharsPerToken: 4, InputTokens: 100_000, OutputTokens: 4_096, SafetyBuffer: 8_000}
}

// SmallModelBudget is the default envelope for small models.
func SmallModelBudget() Budget {
	return Budget{CharsPerToken: 4, InputTokens: 6_000, OutputTokens: 2_000, SafetyBuffer: 0}
}

// AustereBudget is the chatter-path envelope: enough for a greeting, nothing
// to leak.
func AustereBudget() Budget {
	return Budget{CharsPerToken: 4, InputTokens: 2_000, OutputTokens: 512, SafetyBuffer: 0}
}

// EstimateTokens estimates token usage for a string.
func (b Budget) EstimateTokens(s string) int {
	cpt := b.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	return (len(s) + cpt - 1) / cpt
}

// Available is the input budget after the safety buffer.
func (b Budget) Available() int {
	n := b.InputTokens - b.SafetyBuffer
	if n < 0 {
		return 0
	}
	return n
}
