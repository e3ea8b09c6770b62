package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/convoflow/convoflow/internal/observability"
	"github.com/convoflow/convoflow/pkg/models"
)

func testRunner(t *testing.T, registry *Registry, mocks *MockSet) *Runner {
	t.Helper()
	log := observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})
	return NewRunner(registry, NewIdempotencyCache(time.Minute), RunnerConfig{
		Timeout:      time.Second,
		RetryBackoff: time.Millisecond,
		TokenCap:     3000,
	}, log, nil, mocks)
}

func registryWith(t *testing.T, entry models.CatalogEntry, h Handler) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.Register(entry, h); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRunnerExecutesAndSanitizes(t *testing.T) {
	entry := models.CatalogEntry{
		Name:           "order_lookup",
		FieldWhitelist: models.FieldWhitelist{Required: []string{"status"}},
	}
	registry := registryWith(t, entry, func(ctx context.Context, args map[string]any, meta CallMeta) (*models.ToolResult, error) {
		return &models.ToolResult{
			Outcome: models.OutcomeOK,
			Data:    map[string]any{"status": "shipped", "password": "x"},
			Message: "found",
		}, nil
	})
	runner := testRunner(t, registry, nil)

	got := runner.Run(context.Background(), models.ToolCall{Name: "order_lookup"}, CallMeta{Language: models.LangEN})
	if got.Outcome != models.OutcomeOK {
		t.Fatalf("outcome: %s", got.Outcome)
	}
	if got.Data["status"] != "shipped" {
		t.Errorf("data: %v", got.Data)
	}
	if _, ok := got.Data["password"]; ok {
		t.Error("sanitization must run inside the runner")
	}
	if got.ToolName != "order_lookup" {
		t.Errorf("tool name should be stamped, got %q", got.ToolName)
	}
}

func TestRunnerRetriesOnceThenInfraError(t *testing.T) {
	attempts := 0
	registry := registryWith(t, models.CatalogEntry{Name: "flaky"}, func(ctx context.Context, args map[string]any, meta CallMeta) (*models.ToolResult, error) {
		attempts++
		return nil, errors.New("connection reset")
	})
	runner := testRunner(t, registry, nil)

	got := runner.Run(context.Background(), models.ToolCall{Name: "flaky"}, CallMeta{Language: models.LangEN})
	if attempts != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", attempts)
	}
	if got.Outcome != models.OutcomeInfraError {
		t.Errorf("persistent failure should map to INFRA_ERROR, got %s", got.Outcome)
	}
	if got.Message == "" {
		t.Error("failure results must carry a user-facing message")
	}
}

func TestRunnerRecoversAfterTransientFailure(t *testing.T) {
	attempts := 0
	registry := registryWith(t, models.CatalogEntry{Name: "flaky"}, func(ctx context.Context, args map[string]any, meta CallMeta) (*models.ToolResult, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("timeout")
		}
		return &models.ToolResult{Outcome: models.OutcomeOK, Data: map[string]any{"ok": true}, Message: "done"}, nil
	})
	runner := testRunner(t, registry, nil)

	got := runner.Run(context.Background(), models.ToolCall{Name: "flaky"}, CallMeta{})
	if got.Outcome != models.OutcomeOK {
		t.Errorf("retry should recover, got %s", got.Outcome)
	}
}

func TestRunnerIdempotencyServesCachedSuccess(t *testing.T) {
	executions := 0
	registry := registryWith(t, models.CatalogEntry{Name: "order_lookup"}, func(ctx context.Context, args map[string]any, meta CallMeta) (*models.ToolResult, error) {
		executions++
		return &models.ToolResult{Outcome: models.OutcomeOK, Data: map[string]any{"n": executions}, Message: "ok"}, nil
	})
	runner := testRunner(t, registry, nil)
	meta := CallMeta{BusinessID: "biz", Channel: models.ChannelChat, MessageID: "m-1"}

	runner.Run(context.Background(), models.ToolCall{Name: "order_lookup"}, meta)
	runner.Run(context.Background(), models.ToolCall{Name: "order_lookup"}, meta)
	if executions != 1 {
		t.Errorf("same message should execute side effects once, got %d", executions)
	}

	meta.MessageID = "m-2"
	runner.Run(context.Background(), models.ToolCall{Name: "order_lookup"}, meta)
	if executions != 2 {
		t.Errorf("a new message must execute again, got %d", executions)
	}
}

func TestRunnerValidationFailureNeedsMoreInfo(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"order_number":{"type":"string"}},"required":["order_number"]}`)
	registry := registryWith(t, models.CatalogEntry{Name: "order_lookup", ParameterSchema: schema},
		func(ctx context.Context, args map[string]any, meta CallMeta) (*models.ToolResult, error) {
			t.Fatal("handler must not run on invalid args")
			return nil, nil
		})
	runner := testRunner(t, registry, nil)

	got := runner.Run(context.Background(), models.ToolCall{Name: "order_lookup", Args: json.RawMessage(`{}`)}, CallMeta{Language: models.LangTR})
	if got.Outcome != models.OutcomeNeedMoreInfo {
		t.Errorf("schema violation should map to NEED_MORE_INFO, got %s", got.Outcome)
	}
}

func TestRunnerUnknownToolIsInfraError(t *testing.T) {
	runner := testRunner(t, NewRegistry(), nil)
	got := runner.Run(context.Background(), models.ToolCall{Name: "ghost"}, CallMeta{})
	if got.Outcome != models.OutcomeInfraError {
		t.Errorf("unknown tool should be INFRA_ERROR, got %s", got.Outcome)
	}
}

func TestRunnerMockOverridesHandler(t *testing.T) {
	registry := registryWith(t, models.CatalogEntry{Name: "order_lookup"},
		func(ctx context.Context, args map[string]any, meta CallMeta) (*models.ToolResult, error) {
			t.Fatal("real handler must not run when a mock is scripted")
			return nil, nil
		})
	mocks := NewMockSet()
	mocks.Script("order_lookup", &models.ToolResult{Outcome: models.OutcomeNotFound})
	runner := testRunner(t, registry, mocks)

	got := runner.Run(context.Background(), models.ToolCall{Name: "order_lookup"}, CallMeta{Language: models.LangEN})
	if got.Outcome != models.OutcomeNotFound {
		t.Errorf("mock fixture should drive the outcome, got %s", got.Outcome)
	}
}
