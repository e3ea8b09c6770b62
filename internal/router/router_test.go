package router

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/convoflow/convoflow/pkg/models"
)

func TestRouteKBOnlyBarrier(t *testing.T) {
	r := New(Config{KBLinks: map[string][]string{"biz-1": {"https://help.example.com/orders"}}})
	req := &models.TurnRequest{BusinessID: "biz-1", ChannelMode: models.ModeKBOnly, Language: models.LangEN}

	d := r.Route(req, &models.Session{}, models.Classification{Type: models.IntentOrder, Confidence: 0.9})
	if d.Action != ActionDirectReply {
		t.Fatalf("transactional intent on kb_only must short-circuit, got %s", d.Action)
	}
	if d.MessageType != models.MessageTypeSystemBarrier {
		t.Errorf("expected system_barrier, got %s", d.MessageType)
	}
	if !strings.Contains(d.Reply, "https://help.example.com/orders") {
		t.Errorf("curated link missing from reply: %q", d.Reply)
	}
}

func TestRouteKBOnlyChatterStillTalks(t *testing.T) {
	r := New(Config{})
	req := &models.TurnRequest{ChannelMode: models.ModeKBOnly, Language: models.LangEN}
	d := r.Route(req, &models.Session{}, models.Classification{Type: models.IntentChatter, Confidence: 0.99})
	if d.Action != ActionChatter {
		t.Errorf("chatter on kb_only should still route to the model, got %s", d.Action)
	}
}

func TestRouteDisputeRestatesAnchor(t *testing.T) {
	r := New(Config{})
	truth, _ := json.Marshal(map[string]any{"message": "Siparişiniz kargoya verildi"})
	session := &models.Session{Anchor: &models.Anchor{Type: models.AnchorOrder, Truth: truth}}
	req := &models.TurnRequest{Language: models.LangTR}

	d := r.Route(req, session, models.Classification{Type: models.IntentDispute, Confidence: 0.95})
	if d.Action != ActionDirectReply {
		t.Fatalf("dispute with anchor must answer directly, got %s", d.Action)
	}
	if !strings.Contains(d.Reply, "Siparişiniz kargoya verildi") {
		t.Errorf("anchored truth should be restated: %q", d.Reply)
	}
}

func TestRouteFailedClassificationIsSafeMode(t *testing.T) {
	r := New(Config{})
	d := r.Route(&models.TurnRequest{Language: models.LangEN}, &models.Session{}, models.SafeFallback())
	if d.Action != ActionLLMWithTools || !d.SafeMode {
		t.Errorf("failed classification should route to tool-less safe mode, got %+v", d)
	}
}

func TestRouteClarifyUnderStrictGrounding(t *testing.T) {
	r := New(Config{StrictGrounding: true, ClarifyBelow: 0.3})
	c := models.Classification{Type: models.IntentOther, Confidence: 0.1}

	d := r.Route(&models.TurnRequest{Language: models.LangEN}, &models.Session{}, c)
	if d.Action != ActionClarify {
		t.Errorf("low confidence under strict grounding should clarify, got %s", d.Action)
	}

	loose := New(Config{})
	if d := loose.Route(&models.TurnRequest{}, &models.Session{}, c); d.Action != ActionLLMWithTools {
		t.Errorf("without strict grounding the default path should run, got %s", d.Action)
	}
}

func TestRouteDefault(t *testing.T) {
	r := New(Config{})
	d := r.Route(&models.TurnRequest{Language: models.LangTR}, &models.Session{},
		models.Classification{Type: models.IntentOrder, Confidence: 0.9})
	if d.Action != ActionLLMWithTools || d.SafeMode {
		t.Errorf("default path should be llm_with_tools, got %+v", d)
	}
}
