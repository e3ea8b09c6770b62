package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/convoflow/convoflow/internal/observability"
	"github.com/convoflow/convoflow/pkg/models"
)

func demoRunner(t *testing.T) (*Runner, *DemoBackend) {
	t.Helper()
	backend := NewDemoBackend()
	registry := NewRegistry()
	if err := RegisterBuiltins(registry, backend); err != nil {
		t.Fatal(err)
	}
	log := observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})
	runner := NewRunner(registry, NewIdempotencyCache(time.Minute), RunnerConfig{}, log, nil, nil)
	return runner, backend
}

func TestBuiltinCatalogRegisters(t *testing.T) {
	registry := NewRegistry()
	if err := RegisterBuiltins(registry, NewDemoBackend()); err != nil {
		t.Fatal(err)
	}
	catalog := registry.Catalog()
	want := []string{"create_callback", "customer_data_lookup", "order_lookup", "stock_lookup", "tracking_lookup"}
	if len(catalog) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(catalog))
	}
	for i, name := range want {
		if catalog[i].Name != name {
			t.Errorf("catalog[%d] = %s, want %s", i, catalog[i].Name, name)
		}
		if len(catalog[i].ParameterSchema) == 0 {
			t.Errorf("%s should carry a reflected schema", name)
		}
	}
}

func TestBuiltinOrderLookupVerificationGate(t *testing.T) {
	runner, _ := demoRunner(t)
	ctx := context.Background()
	call := models.ToolCall{Name: "order_lookup", Args: json.RawMessage(`{"order_number":"ORD-123456"}`)}

	got := runner.Run(ctx, call, CallMeta{MessageID: "m-1", Language: models.LangTR})
	if got.Outcome != models.OutcomeVerificationRequired {
		t.Fatalf("lookup without proof should require verification, got %s", got.Outcome)
	}
	if len(got.AskFor) != 1 || got.AskFor[0] != "phone_last4" {
		t.Errorf("askFor should name phone_last4, got %v", got.AskFor)
	}
	if got.Data != nil {
		t.Error("verification-required results must not leak order data")
	}

	call.Args = json.RawMessage(`{"order_number":"ORD-123456","phone_last4":"4567"}`)
	got = runner.Run(ctx, call, CallMeta{MessageID: "m-2", Language: models.LangTR})
	if got.Outcome != models.OutcomeOK {
		t.Fatalf("verified lookup should succeed, got %s", got.Outcome)
	}
	if got.Data["status"] != "shipped" {
		t.Errorf("data: %v", got.Data)
	}
}

func TestBuiltinOrderLookupNotFound(t *testing.T) {
	runner, _ := demoRunner(t)
	call := models.ToolCall{Name: "order_lookup", Args: json.RawMessage(`{"order_number":"ORD-999999999"}`)}
	got := runner.Run(context.Background(), call, CallMeta{MessageID: "m-1", Language: models.LangTR})
	if got.Outcome != models.OutcomeNotFound {
		t.Errorf("unknown order should be NOT_FOUND, got %s", got.Outcome)
	}
	if got.Message == "" {
		t.Error("NOT_FOUND must carry a templated message")
	}
}

func TestBuiltinStockLookup(t *testing.T) {
	runner, _ := demoRunner(t)
	call := models.ToolCall{Name: "stock_lookup", Args: json.RawMessage(`{"product":"kırmızı kazak"}`)}
	got := runner.Run(context.Background(), call, CallMeta{MessageID: "m-1", Language: models.LangTR})
	if got.Outcome != models.OutcomeOK {
		t.Fatalf("outcome: %s", got.Outcome)
	}
	if got.Data["availability"] != models.StockInStock {
		t.Errorf("availability: %v", got.Data["availability"])
	}
	if _, leaked := got.Data["quantity"]; leaked {
		t.Error("exact quantity must not leave the tool layer")
	}
	var hasFlowEvent bool
	for _, ev := range got.StateEvents {
		if ev.Type == models.EventSetFlow && ev.Flow == models.FlowStockCheck {
			hasFlowEvent = true
		}
	}
	if !hasFlowEvent {
		t.Error("stock lookup should request the STOCK_CHECK flow")
	}

	call = models.ToolCall{Name: "stock_lookup", Args: json.RawMessage(`{"product":"mavi gömlek"}`)}
	got = runner.Run(context.Background(), call, CallMeta{MessageID: "m-2", Language: models.LangTR})
	if got.Data["availability"] != models.StockOutOfStock {
		t.Errorf("zero stock should band to out_of_stock, got %v", got.Data["availability"])
	}
}

func TestBuiltinCreateCallback(t *testing.T) {
	runner, backend := demoRunner(t)
	call := models.ToolCall{Name: "create_callback", Args: json.RawMessage(`{"phone":"05551234567","topic":"iade"}`)}
	got := runner.Run(context.Background(), call, CallMeta{MessageID: "m-1", Language: models.LangTR})
	if got.Outcome != models.OutcomeOK {
		t.Fatalf("outcome: %s", got.Outcome)
	}
	if len(backend.Callbacks()) != 1 {
		t.Errorf("callback should be recorded, got %d", len(backend.Callbacks()))
	}
}
