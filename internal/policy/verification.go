package policy

import (
	"regexp"
	"strings"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

// False-promise phrasing defers the user instead of asking for what the
// verification actually needs. Stripped whenever a tool returned
// VERIFICATION_REQUIRED.
var falsePromisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)en kısa sürede (?:size )?(?:geri )?dön(?:üş yapacağız|eceğiz|eceğim)[.!]?`),
	regexp.MustCompile(`(?i)size (?:en kısa sürede )?ulaşacağız[.!]?`),
	regexp.MustCompile(`(?i)konuyu ilgili birime ilettim[.!]?`),
	regexp.MustCompile(`(?i)talebiniz (?:incelenip|değerlendirilip) size dönülecektir[.!]?`),
	regexp.MustCompile(`(?i)I(?:'ll| will) get back to you(?: shortly| soon| as soon as possible)?[.!]?`),
	regexp.MustCompile(`(?i)we(?:'ll| will) (?:get back|reach out) to you(?: shortly| soon)?[.!]?`),
	regexp.MustCompile(`(?i)someone will contact you(?: shortly| soon)?[.!]?`),
	regexp.MustCompile(`(?i)I(?:'ve| have) forwarded (?:this|your request) to (?:the|our) (?:relevant )?team[.!]?`),
}

// StripFalsePromises removes deferral phrasing from a draft.
func StripFalsePromises(text string) (string, bool) {
	changed := false
	for _, p := range falsePromisePatterns {
		if p.MatchString(text) {
			text = p.ReplaceAllString(text, "")
			changed = true
		}
	}
	if changed {
		text = strings.Join(strings.Fields(text), " ")
	}
	return text, changed
}

// verificationQuestions maps an askFor field to the targeted question in
// each language.
var verificationQuestions = map[string]map[models.Language]string{
	"phone_last4": {
		models.LangTR: "Güvenliğiniz için telefon numaranızın son 4 hanesini paylaşır mısınız?",
		models.LangEN: "For your security, could you share the last 4 digits of your phone number?",
	},
	"phone": {
		models.LangTR: "Kayıtlı telefon numaranızı paylaşır mısınız?",
		models.LangEN: "Could you share the phone number on file?",
	},
	"order_number": {
		models.LangTR: "Sipariş numaranızı paylaşır mısınız?",
		models.LangEN: "Could you share your order number?",
	},
	"email": {
		models.LangTR: "Kayıtlı e-posta adresinizi paylaşır mısınız?",
		models.LangEN: "Could you share the email address on file?",
	},
	"customer_name": {
		models.LangTR: "Kayıtlı ad ve soyadınızı paylaşır mısınız?",
		models.LangEN: "Could you share the full name on the account?",
	},
	"vkn": {
		models.LangTR: "Vergi kimlik numaranızı paylaşır mısınız?",
		models.LangEN: "Could you share your tax identification number?",
	},
	"tracking_number": {
		models.LangTR: "Kargo takip numaranızı paylaşır mısınız?",
		models.LangEN: "Could you share your tracking number?",
	},
}

var genericVerificationQuestion = map[models.Language]string{
	models.LangTR: "Kimlik doğrulaması için kayıtlı bilgilerinizden birini paylaşır mısınız?",
	models.LangEN: "To verify your identity, could you share one of the details on your account?",
}

// TargetedQuestion returns the verification question for the first askFor
// field the user has not already supplied, and that field's name. Fields
// already present in slots are never re-asked. An empty field name means
// every askFor field is already supplied.
func TargetedQuestion(askFor []string, slots map[string]string, lang models.Language) (string, string) {
	for _, field := range askFor {
		if slots[field] != "" {
			continue
		}
		if byLang, ok := verificationQuestions[field]; ok {
			if q, ok := byLang[lang]; ok {
				return q, field
			}
			return byLang[models.LangEN], field
		}
		return genericVerificationQuestion[lang], field
	}
	return "", ""
}

// ApplyVerificationPolicy rewrites a draft for a VERIFICATION_REQUIRED
// outcome: false promises are stripped and the targeted question appended.
// Returns the rewritten text and the field being asked for.
func ApplyVerificationPolicy(text string, askFor []string, slots map[string]string, lang models.Language) (string, string) {
	text, _ = StripFalsePromises(text)
	question, field := TargetedQuestion(askFor, slots, lang)
	if question == "" {
		return strings.TrimSpace(text), ""
	}
	if strings.Contains(text, question) {
		return strings.TrimSpace(text), field
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return question, field
	}
	return text + " " + question, field
}

// IncrementVerificationAttempt bumps the attempt counter and terminates the
// session at the cap. Returns true when the session was terminated.
func IncrementVerificationAttempt(session *models.Session, lockDuration time.Duration, now time.Time) bool {
	session.Verification.Status = models.VerificationPending
	if session.Verification.Attempts < models.MaxVerificationAttempts {
		session.Verification.Attempts++
	}
	if session.Verification.Attempts >= models.MaxVerificationAttempts {
		session.Terminate("verification_attempts_exceeded", now.Add(lockDuration))
		return true
	}
	return false
}
