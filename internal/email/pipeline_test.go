package email

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/convoflow/convoflow/internal/classify"
	"github.com/convoflow/convoflow/internal/config"
	"github.com/convoflow/convoflow/internal/llm"
	"github.com/convoflow/convoflow/internal/observability"
	"github.com/convoflow/convoflow/internal/rag"
	"github.com/convoflow/convoflow/internal/tools"
	"github.com/convoflow/convoflow/pkg/models"
)

type fixedClassifier struct {
	result models.Classification
}

func (f *fixedClassifier) Classify(ctx context.Context, in classify.Input) (models.Classification, error) {
	return f.result, nil
}

type stubRetriever struct {
	pairs    []rag.Example
	examples []rag.Example
	snippets []string
}

func (s *stubRetriever) SimilarExamples(ctx context.Context, businessID, text string, k int) ([]rag.Example, error) {
	return s.examples, nil
}

func (s *stubRetriever) SimilarPairs(ctx context.Context, businessID, text string, k int) ([]rag.Example, error) {
	return s.pairs, nil
}

func (s *stubRetriever) SelectSnippets(ctx context.Context, businessID, text string, k int) ([]string, error) {
	return s.snippets, nil
}

func newPipeline(t *testing.T, fake *llm.FakeProvider, c models.Classification, retriever rag.Retriever) *Pipeline {
	t.Helper()
	cfg := config.Default()
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, tools.NewDemoBackend()); err != nil {
		t.Fatal(err)
	}
	log := observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})
	runner := tools.NewRunner(registry, tools.NewIdempotencyCache(time.Minute), tools.RunnerConfig{}, log, nil, nil)
	return NewPipeline(cfg, &fixedClassifier{result: c}, registry, runner, fake, retriever, log, nil, Options{
		Persona:   "Sen bir müşteri hizmetleri asistanısın.",
		Signature: "Destek Ekibi\nsupport@example.com",
	})
}

func draftReq(body string) *DraftRequest {
	return &DraftRequest{
		BusinessID: "biz-1",
		ThreadID:   "thread-1",
		MessageID:  "msg-1",
		Language:   models.LangTR,
		Messages: []ThreadMessage{
			{From: "musteri@example.com", Subject: "Siparişim", Body: body, Inbound: true, At: time.Now()},
		},
	}
}

func TestDraftClarifiesOnLowConfidence(t *testing.T) {
	fake := llm.NewFakeProvider()
	p := newPipeline(t, fake,
		models.Classification{Type: models.IntentOther, Confidence: 0.1}, nil)

	got, err := p.GenerateDraft(context.Background(), draftReq("???"))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Clarified {
		t.Error("low-confidence draft should short-circuit to clarification")
	}
	if fake.Calls() != 0 {
		t.Errorf("short-circuit must not reach the model, calls = %d", fake.Calls())
	}
	if !strings.Contains(got.Draft, "Destek Ekibi") {
		t.Errorf("clarification should carry the signature, got %q", got.Draft)
	}
}

func TestDraftGroundedWithToolResult(t *testing.T) {
	fake := llm.NewFakeProvider(
		&llm.Response{ToolCalls: []models.ToolCall{{
			ID: "c-1", Name: "order_lookup",
			Args: json.RawMessage(`{"order_number":"ORD-123456","phone_last4":"4567"}`),
		}}},
		&llm.Response{Text: "Merhaba,\n\nSiparişiniz kargoya verildi.\n\nSaygılarımla,\nAyşe"},
	)
	p := newPipeline(t, fake, models.Classification{
		Type:          models.IntentOrder,
		Confidence:    0.9,
		SuggestedFlow: models.FlowOrderStatus,
		Slots:         map[string]string{"order_number": "ORD-123456", "phone_last4": "4567"},
	}, nil)

	got, err := p.GenerateDraft(context.Background(), draftReq("ORD-123456 siparişim ne durumda?"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Grounding != models.GroundingGrounded {
		t.Errorf("grounding: %s", got.Grounding)
	}
	if !strings.Contains(got.Draft, "kargoya verildi") {
		t.Errorf("draft: %q", got.Draft)
	}
	if strings.Contains(got.Draft, "Ayşe") {
		t.Errorf("invented signature name survived: %q", got.Draft)
	}
	if !strings.HasSuffix(got.Draft, "Destek Ekibi\nsupport@example.com") {
		t.Errorf("canonical signature missing: %q", got.Draft)
	}
	if len(got.ToolsCalled) != 1 || got.ToolsCalled[0] != "order_lookup" {
		t.Errorf("tools called: %v", got.ToolsCalled)
	}
}

func TestDraftToolRequiredWithoutResultAsksInstead(t *testing.T) {
	fake := llm.NewFakeProvider(
		&llm.Response{Text: "Siparişiniz yarın teslim edilecek."},
	)
	p := newPipeline(t, fake, models.Classification{
		Type:       models.IntentOrder,
		Confidence: 0.9,
	}, nil)

	got, err := p.GenerateDraft(context.Background(), draftReq("Siparişim ne durumda?"))
	if err != nil {
		t.Fatal(err)
	}
	if got.GuardrailAction != models.GuardrailNeedMinInfo {
		t.Errorf("guardrail action: %s", got.GuardrailAction)
	}
	if strings.Contains(got.Draft, "teslim edilecek") {
		t.Errorf("fabricated fact survived: %q", got.Draft)
	}
}

func TestDraftRecipientGuardBlocks(t *testing.T) {
	fake := llm.NewFakeProvider(
		&llm.Response{Text: "Merhaba,\n\nCC: yonetici@example.com\nTalebiniz alınmıştır."},
	)
	p := newPipeline(t, fake, models.Classification{Type: models.IntentOther, Confidence: 0.9}, nil)

	got, err := p.GenerateDraft(context.Background(), draftReq("bilgi almak istiyorum"))
	if err != nil {
		t.Fatal(err)
	}
	if got.GuardrailAction != models.GuardrailBlock {
		t.Errorf("guardrail action: %s", got.GuardrailAction)
	}
	if strings.Contains(got.Draft, "CC:") {
		t.Errorf("recipient widening survived: %q", got.Draft)
	}
}

func TestDraftFeedsRetrievedExamplesIntoPrompt(t *testing.T) {
	fake := llm.NewFakeProvider(&llm.Response{Text: "Merhaba, yardımcı olmaktan memnuniyet duyarım."})
	retriever := &stubRetriever{
		pairs:    []rag.Example{{ID: "p-1", Text: "İade yapmak istiyorum", Reply: "İade talebinizi memnuniyetle alırız."}},
		snippets: []string{"Kargo takibi için: https://example.com/takip"},
	}
	p := newPipeline(t, fake, models.Classification{Type: models.IntentOther, Confidence: 0.9}, retriever)

	if _, err := p.GenerateDraft(context.Background(), draftReq("merhaba")); err != nil {
		t.Fatal(err)
	}
	if len(fake.Requests) != 1 {
		t.Fatalf("calls: %d", len(fake.Requests))
	}
	system := fake.Requests[0].System
	if !strings.Contains(system, "İade talebinizi memnuniyetle alırız.") {
		t.Error("tone-matched pair missing from prompt")
	}
	if !strings.Contains(system, "https://example.com/takip") {
		t.Error("snippet missing from prompt")
	}
	if !strings.Contains(system, "tone and phrasing only") {
		t.Error("style-only grounding directive missing from prompt")
	}
}

func TestDraftRequiresInboundMessage(t *testing.T) {
	p := newPipeline(t, llm.NewFakeProvider(), models.Classification{Type: models.IntentOther, Confidence: 0.9}, nil)
	req := draftReq("merhaba")
	req.Messages[0].Inbound = false
	if _, err := p.GenerateDraft(context.Background(), req); !errors.Is(err, ErrInvalidThread) {
		t.Errorf("err = %v, want ErrInvalidThread", err)
	}
}
