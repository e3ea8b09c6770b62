package policy

import (
	"regexp"
	"strings"
)

var (
	// Turkish national IDs are 11 digits and never start with 0.
	nationalIDPattern = regexp.MustCompile(`\b[1-9][0-9]{10}\b`)
	cardPattern       = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	phonePattern      = regexp.MustCompile(`\b(?:\+90|0)?5\d{9}\b`)
)

// ScrubPII masks identifiers in outbound text: national IDs, Luhn-valid
// card numbers, and phone numbers the draft repeats more than once. Returns
// the scrubbed text and whether anything was masked.
func ScrubPII(text string) (string, bool) {
	changed := false

	text = nationalIDPattern.ReplaceAllStringFunc(text, func(m string) string {
		changed = true
		return maskDigits(m, 0)
	})

	text = cardPattern.ReplaceAllStringFunc(text, func(m string) string {
		digits := onlyDigits(m)
		if !luhnValid(digits) {
			return m
		}
		changed = true
		return maskDigits(m, 4)
	})

	// A phone number echoed back more than once is masked everywhere; a
	// single mention keeps the last 4 so the user can confirm it.
	counts := map[string]int{}
	for _, m := range phonePattern.FindAllString(text, -1) {
		counts[onlyDigits(m)]++
	}
	text = phonePattern.ReplaceAllStringFunc(text, func(m string) string {
		if counts[onlyDigits(m)] < 2 {
			return m
		}
		changed = true
		return maskDigits(m, 4)
	})

	return text, changed
}

// maskDigits replaces every digit except the trailing keep with '*',
// preserving separators.
func maskDigits(s string, keep int) string {
	total := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			total++
		}
	}
	var b strings.Builder
	seen := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			seen++
			if seen <= total-keep {
				b.WriteByte('*')
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func luhnValid(digits string) bool {
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
