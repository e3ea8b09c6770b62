package policy

import (
	"strings"
	"testing"

	"github.com/convoflow/convoflow/pkg/models"
)

func TestRewriteActionClaimsTurkish(t *testing.T) {
	got, changed := RewriteActionClaims("Talebinizi ilettim, en kısa sürede dönüş yapılacak.", models.LangTR)
	if !changed {
		t.Fatal("completed-action claim should be rewritten")
	}
	if strings.Contains(got, "ilettim") {
		t.Errorf("completed form should be gone: %q", got)
	}
	if !strings.Contains(got, "iletebilirim") {
		t.Errorf("expected tentative form, got %q", got)
	}
}

func TestRewriteActionClaimsEnglish(t *testing.T) {
	got, changed := RewriteActionClaims("I have sent your request to the billing team.", models.LangEN)
	if !changed {
		t.Fatal("completed-action claim should be rewritten")
	}
	if !strings.Contains(got, "I can send") {
		t.Errorf("expected tentative form, got %q", got)
	}
}

func TestRewriteActionClaimsLeavesCleanTextAlone(t *testing.T) {
	in := "Siparişinizin durumunu kontrol edebilirim."
	got, changed := RewriteActionClaims(in, models.LangTR)
	if changed || got != in {
		t.Errorf("text without claims must pass through unchanged, got %q", got)
	}
}

func TestContainsActionClaim(t *testing.T) {
	if !ContainsActionClaim("Kaydınızı oluşturdum.", models.LangTR) {
		t.Error("expected Turkish claim to be detected")
	}
	if ContainsActionClaim("How can I help you today?", models.LangEN) {
		t.Error("plain question is not a claim")
	}
}
