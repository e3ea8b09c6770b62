package policy

import (
	"regexp"

	"github.com/convoflow/convoflow/pkg/models"
)

// claimRewrite pairs a completed-action assertion with its tentative form.
type claimRewrite struct {
	pattern *regexp.Regexp
	repl    string
}

// Turkish verbs carry the completed action in the suffix; matching the
// inflected forms directly is more reliable than stemming.
var claimRewritesTR = []claimRewrite{
	{regexp.MustCompile(`(?i)talebinizi\s+ilettim`), "talebinizi iletebilirim"},
	{regexp.MustCompile(`(?i)\bilettim\b`), "iletebilirim"},
	{regexp.MustCompile(`(?i)\biletildi\b`), "iletilebilir"},
	{regexp.MustCompile(`(?i)\bgönderdim\b`), "gönderebilirim"},
	{regexp.MustCompile(`(?i)\bgönderildi\b`), "gönderilebilir"},
	{regexp.MustCompile(`(?i)\bkaydettim\b`), "kaydedebilirim"},
	{regexp.MustCompile(`(?i)\bkaydedildi\b`), "kaydedilebilir"},
	{regexp.MustCompile(`(?i)\boluşturdum\b`), "oluşturabilirim"},
	{regexp.MustCompile(`(?i)\boluşturuldu\b`), "oluşturulabilir"},
	{regexp.MustCompile(`(?i)işleme\s+aldım`), "işleme alabilirim"},
	{regexp.MustCompile(`(?i)işleme\s+alındı`), "işleme alınabilir"},
	{regexp.MustCompile(`(?i)\biptal\s+ettim\b`), "iptal edebilirim"},
	{regexp.MustCompile(`(?i)\biptal\s+edildi\b`), "iptal edilebilir"},
	{regexp.MustCompile(`(?i)\bgüncelledim\b`), "güncelleyebilirim"},
	{regexp.MustCompile(`(?i)\bgüncellendi\b`), "güncellenebilir"},
}

var claimRewritesEN = []claimRewrite{
	{regexp.MustCompile(`(?i)\bI(?:'ve| have)? (?:already )?sent\b`), "I can send"},
	{regexp.MustCompile(`(?i)\bhas been sent\b`), "can be sent"},
	{regexp.MustCompile(`(?i)\bI(?:'ve| have)? (?:already )?saved\b`), "I can save"},
	{regexp.MustCompile(`(?i)\bhas been saved\b`), "can be saved"},
	{regexp.MustCompile(`(?i)\bI(?:'ve| have)? (?:already )?processed\b`), "I can process"},
	{regexp.MustCompile(`(?i)\bhas been processed\b`), "can be processed"},
	{regexp.MustCompile(`(?i)\bI(?:'ve| have)? (?:already )?created\b`), "I can create"},
	{regexp.MustCompile(`(?i)\bhas been created\b`), "can be created"},
	{regexp.MustCompile(`(?i)\bI(?:'ve| have)? (?:already )?forwarded\b`), "I can forward"},
	{regexp.MustCompile(`(?i)\bhas been forwarded\b`), "can be forwarded"},
	{regexp.MustCompile(`(?i)\bI(?:'ve| have)? (?:already )?cancell?ed\b`), "I can cancel"},
	{regexp.MustCompile(`(?i)\bhas been cancell?ed\b`), "can be cancelled"},
	{regexp.MustCompile(`(?i)\bI(?:'ve| have)? (?:already )?updated\b`), "I can update"},
	{regexp.MustCompile(`(?i)\bhas been updated\b`), "can be updated"},
}

// RewriteActionClaims rewrites assertions of completed actions to tentative
// forms. Call only when no tool succeeded this turn; with a successful tool
// result the claims are legitimate. Returns the text and whether anything
// changed.
func RewriteActionClaims(text string, lang models.Language) (string, bool) {
	rewrites := claimRewritesEN
	if lang == models.LangTR {
		rewrites = claimRewritesTR
	}
	changed := false
	for _, rw := range rewrites {
		if rw.pattern.MatchString(text) {
			text = rw.pattern.ReplaceAllString(text, rw.repl)
			changed = true
		}
	}
	return text, changed
}

// ContainsActionClaim reports whether the text asserts a completed action in
// the given language.
func ContainsActionClaim(text string, lang models.Language) bool {
	rewrites := claimRewritesEN
	if lang == models.LangTR {
		rewrites = claimRewritesTR
	}
	for _, rw := range rewrites {
		if rw.pattern.MatchString(text) {
			return true
		}
	}
	return false
}
