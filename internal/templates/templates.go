// Package templates is the catalog of fixed user-facing messages. Every
// reply the pipeline synthesizes without the model comes from here, keyed by
// message kind and language.
package templates

import (
	"fmt"
	"strings"

	"github.com/convoflow/convoflow/pkg/models"
)

// Key names one templated message.
type Key string

const (
	KeyLocked        Key = "locked"
	KeySystemError   Key = "system_error"
	KeyNotFound      Key = "not_found"
	KeyNeedMoreInfo  Key = "need_more_info"
	KeyDenied        Key = "denied"
	KeyVerification  Key = "verification"
	KeyEmptyFallback Key = "empty_fallback"
	KeyDisputeAnchor Key = "dispute_anchor"
	KeyKBOnlyBarrier Key = "kb_only_barrier"
	KeyClarify       Key = "clarify"
	KeyCallbackTaken Key = "callback_taken"
	KeyStockInStock  Key = "stock_in_stock"
	KeyStockLimited  Key = "stock_limited"
	KeyStockOut      Key = "stock_out"
)

var catalog = map[Key]map[models.Language]string{
	KeyLocked: {
		models.LangTR: "Güvenlik nedeniyle bu oturum geçici olarak kapatılmıştır. Lütfen daha sonra tekrar deneyin.",
		models.LangEN: "This session has been temporarily closed for security reasons. Please try again later.",
	},
	KeySystemError: {
		models.LangTR: "Şu anda teknik bir sorun yaşıyoruz. Lütfen birazdan tekrar deneyin.",
		models.LangEN: "We are having a technical issue right now. Please try again shortly.",
	},
	KeyNotFound: {
		models.LangTR: "Paylaştığınız bilgilerle bir kayıt bulamadım. Bilgilerinizi kontrol edip tekrar iletir misiniz?",
		models.LangEN: "I could not find a record with the details you shared. Could you check them and try again?",
	},
	KeyNeedMoreInfo: {
		models.LangTR: "Size yardımcı olabilmem için birkaç bilgiye daha ihtiyacım var.",
		models.LangEN: "I need a bit more information to help you with that.",
	},
	KeyDenied: {
		models.LangTR: "Üzgünüm, bu işlem için yetkim bulunmuyor.",
		models.LangEN: "I am sorry, I am not authorized to do that.",
	},
	KeyVerification: {
		models.LangTR: "Güvenliğiniz için önce kimliğinizi doğrulamam gerekiyor.",
		models.LangEN: "For your security, I need to verify your identity first.",
	},
	KeyEmptyFallback: {
		models.LangTR: "Size nasıl yardımcı olabilirim?",
		models.LangEN: "How can I help you?",
	},
	KeyDisputeAnchor: {
		models.LangTR: "Elimdeki kayıtlara göre durum şu şekilde: %s",
		models.LangEN: "According to the records I have, the situation is: %s",
	},
	KeyKBOnlyBarrier: {
		models.LangTR: "Bu kanaldan işlem yapamıyorum, ancak aşağıdaki kaynaklar yardımcı olabilir:\n%s",
		models.LangEN: "I cannot process requests on this channel, but these resources may help:\n%s",
	},
	KeyClarify: {
		models.LangTR: "Tam olarak neyi öğrenmek istediğinizi biraz daha açar mısınız?",
		models.LangEN: "Could you tell me a bit more about what you are looking for?",
	},
	KeyCallbackTaken: {
		models.LangTR: "Geri arama talebinizi aldım. En uygun zamanda sizi arayacağız.",
		models.LangEN: "I have noted your callback request. We will call you back as soon as possible.",
	},
	KeyStockInStock: {
		models.LangTR: "%s stokta mevcut. Kaç adet istersiniz?",
		models.LangEN: "%s is in stock. How many would you like?",
	},
	KeyStockLimited: {
		models.LangTR: "%s stokta sınırlı sayıda mevcut. Kaç adet istersiniz?",
		models.LangEN: "%s is available in limited quantity. How many would you like?",
	},
	KeyStockOut: {
		models.LangTR: "%s şu anda stokta bulunmuyor.",
		models.LangEN: "%s is currently out of stock.",
	},
}

// Render returns the templated message for the key and language. Unknown
// languages fall back to English; unknown keys to the empty fallback.
func Render(key Key, lang models.Language, args ...any) string {
	byLang, ok := catalog[key]
	if !ok {
		byLang = catalog[KeyEmptyFallback]
	}
	text, ok := byLang[lang]
	if !ok {
		text = byLang[models.LangEN]
	}
	if len(args) > 0 {
		return fmt.Sprintf(text, args...)
	}
	return text
}

// RenderLinks renders the curated-links barrier with a bulleted link list.
func RenderLinks(lang models.Language, links []string) string {
	var b strings.Builder
	for _, link := range links {
		b.WriteString("- ")
		b.WriteString(link)
		b.WriteString("\n")
	}
	return Render(KeyKBOnlyBarrier, lang, strings.TrimRight(b.String(), "\n"))
}
