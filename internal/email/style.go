package email

import "strings"

// signOffPrefixes mark the start of a closing block. Anything from the
// sign-off line down is replaced by the configured signature, so the model
// can never sign with an invented name.
var signOffPrefixes = []string{
	"saygılarımla",
	"saygılarımızla",
	"sevgiler",
	"iyi günler dilerim",
	"iyi çalışmalar",
	"best regards",
	"kind regards",
	"warm regards",
	"regards",
	"sincerely",
	"best,",
	"best wishes",
}

// EnforceSignature strips whatever closing the model produced and appends
// the canonical signature. With no configured signature the closing is
// stripped and nothing is appended.
func EnforceSignature(draft, signature string) string {
	body := strings.TrimRight(draft, " \t\n")
	lines := strings.Split(body, "\n")

	// A sign-off appears in the last few lines; scanning the whole draft
	// would false-positive on quoted text.
	start := len(lines) - 4
	if start < 0 {
		start = 0
	}
	cut := len(lines)
	for i := start; i < len(lines); i++ {
		if isSignOff(lines[i]) {
			cut = i
			break
		}
	}
	body = strings.TrimRight(strings.Join(lines[:cut], "\n"), " \t\n")

	if signature == "" {
		return body
	}
	if body == "" {
		return signature
	}
	return body + "\n\n" + signature
}

func isSignOff(line string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(line))
	if trimmed == "" {
		return false
	}
	for _, prefix := range signOffPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}
