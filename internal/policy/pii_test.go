package policy

import (
	"strings"
	"testing"
)

func TestScrubPIINationalID(t *testing.T) {
	got, changed := ScrubPII("Kimlik numaranız 12345678901 olarak görünüyor.")
	if !changed {
		t.Fatal("national ID should be masked")
	}
	if strings.Contains(got, "12345678901") {
		t.Errorf("raw national ID leaked: %q", got)
	}
}

func TestScrubPIICardNumber(t *testing.T) {
	// Luhn-valid test number.
	got, changed := ScrubPII("Card 4111 1111 1111 1111 was charged.")
	if !changed {
		t.Fatal("card number should be masked")
	}
	if strings.Contains(got, "4111 1111 1111") {
		t.Errorf("raw card number leaked: %q", got)
	}
	if !strings.HasSuffix(strings.TrimSuffix(got, " was charged."), "1111") {
		t.Errorf("last 4 digits should be kept: %q", got)
	}
}

func TestScrubPIILeavesNonLuhnDigitsAlone(t *testing.T) {
	// Not Luhn-valid, so not a card.
	in := "Your reference is 1234 5678 9012 3456."
	if got, _ := ScrubPII(in); !strings.Contains(got, "1234 5678 9012 3456") {
		t.Errorf("non-card digit run should survive: %q", got)
	}
}

func TestScrubPIIRepeatedPhone(t *testing.T) {
	in := "Numaranız 05551234567. Tekrar ediyorum: 05551234567."
	got, changed := ScrubPII(in)
	if !changed {
		t.Fatal("repeated phone should be masked")
	}
	if strings.Contains(got, "05551234567") {
		t.Errorf("repeated phone leaked: %q", got)
	}

	single := "Sizi 05551234567 numarasından arayalım mı?"
	if got, _ := ScrubPII(single); !strings.Contains(got, "05551234567") {
		t.Errorf("single phone mention should be kept for confirmation: %q", got)
	}
}

func TestLuhnValid(t *testing.T) {
	if !luhnValid("4111111111111111") {
		t.Error("known-good card number should validate")
	}
	if luhnValid("4111111111111112") {
		t.Error("off-by-one checksum should fail")
	}
	if luhnValid("411") {
		t.Error("too-short runs are not cards")
	}
}
