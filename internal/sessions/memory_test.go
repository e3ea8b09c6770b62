package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

func TestGetOrCreateIsStableForKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := models.SessionKey(models.ChannelChat, "biz-1", "user-1")

	first, err := store.GetOrCreate(ctx, key, models.ChannelChat, "biz-1", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.GetOrCreate(ctx, key, models.ChannelChat, "biz-1", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("same key should resolve the same session: %s != %s", first.ID, second.ID)
	}
	if first.FlowStatus != models.FlowIdle {
		t.Errorf("new session should start idle, got %s", first.FlowStatus)
	}
}

func TestGetNeverCreates(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "missing-id"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for explicit missing ID, got %v", err)
	}
}

func TestSaveRoundTripsState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session, _ := store.GetOrCreate(ctx, "k", models.ChannelChat, "biz-1", "u-1")

	session.FlowStatus = models.FlowInProgress
	session.ActiveFlow = models.FlowOrderStatus
	session.SetSlot("order_number", "ORD-42")
	session.Verification = models.Verification{Status: models.VerificationPending, PendingField: "phone_last4", Attempts: 1}
	if err := store.Save(ctx, session); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.FlowStatus != models.FlowInProgress || loaded.ActiveFlow != models.FlowOrderStatus {
		t.Error("flow state should survive save/load")
	}
	if loaded.Slots["order_number"] != "ORD-42" {
		t.Error("slots should survive save/load")
	}
	if loaded.Verification.Attempts != 1 {
		t.Error("verification state should survive save/load")
	}
}

func TestSaveCopiesState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session, _ := store.GetOrCreate(ctx, "k", models.ChannelChat, "biz-1", "u-1")
	session.SetSlot("phone", "5551234")
	store.Save(ctx, session)

	// Mutating the caller's copy must not leak into the store.
	session.Slots["phone"] = "changed"
	loaded, _ := store.Get(ctx, session.ID)
	if loaded.Slots["phone"] != "5551234" {
		t.Error("store must hold its own copy of session state")
	}
}

func TestHistoryOrderAndLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session, _ := store.GetOrCreate(ctx, "k", models.ChannelChat, "biz-1", "u-1")

	for i, content := range []string{"one", "two", "three"} {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		if err := store.Append(ctx, session.ID, &models.TranscriptEntry{Role: role, Content: content}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.History(ctx, session.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Content != "two" || entries[1].Content != "three" {
		t.Errorf("history should be chronological, got %q then %q", entries[0].Content, entries[1].Content)
	}
}

func TestRepairHistoryDropsEmptyEntries(t *testing.T) {
	entries := []*models.TranscriptEntry{
		{Content: "hello"},
		{Content: ""},
		nil,
		{Content: "world"},
	}
	repaired := RepairHistory(entries)
	if len(repaired) != 2 {
		t.Fatalf("expected 2 repaired entries, got %d", len(repaired))
	}
}

func TestDeleteIdleBefore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session, _ := store.GetOrCreate(ctx, "k", models.ChannelChat, "biz-1", "u-1")

	removed, err := store.DeleteIdleBefore(ctx, time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed session, got %d", removed)
	}
	if _, err := store.Get(ctx, session.ID); err != ErrNotFound {
		t.Error("swept session should be gone")
	}
}
