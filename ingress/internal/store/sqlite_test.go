package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestSQLiteStoreCallLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	call := &Call{
		CallSid:   "CA1",
		ConnID:    "c1",
		Path:      "/hello-world",
		Direction: "inbound",
		From:      "+15551234",
		To:        "+15559876",
		StartedAt: time.Now(),
	}
	if err := store.StartCall(ctx, call); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	if err := store.UpdateStatus(ctx, "CA1", "in-progress"); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	endedAt := time.Now()
	if err := store.EndCall(ctx, "CA1", "close", endedAt); err != nil {
		t.Fatalf("EndCall failed: %v", err)
	}
	if err := store.EndCall(ctx, "CA1", "connection_closed", endedAt.Add(time.Second)); err != nil {
		t.Fatalf("second EndCall failed: %v", err)
	}

	got, err := store.GetCall(ctx, "CA1")
	if err != nil {
		t.Fatalf("GetCall failed: %v", err)
	}
	if got == nil || got.From != "+15551234" || got.LastStatus != "in-progress" {
		t.Fatalf("unexpected call: %+v", got)
	}
	if got.EndedAt == nil || got.EndReason != "close" {
		t.Fatalf("expected first end to win, got %+v", got)
	}
}

func TestSQLiteStoreRestartReplacesRow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	if err := store.StartCall(ctx, &Call{CallSid: "CA1", ConnID: "c1", Path: "/a", StartedAt: time.Now()}); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	if err := store.EndCall(ctx, "CA1", "close", time.Now()); err != nil {
		t.Fatalf("EndCall failed: %v", err)
	}
	if err := store.StartCall(ctx, &Call{CallSid: "CA1", ConnID: "c2", Path: "/b", StartedAt: time.Now()}); err != nil {
		t.Fatalf("second StartCall failed: %v", err)
	}

	got, err := store.GetCall(ctx, "CA1")
	if err != nil {
		t.Fatalf("GetCall failed: %v", err)
	}
	if got.ConnID != "c2" || got.Path != "/b" || got.EndedAt != nil {
		t.Fatalf("unexpected call after restart: %+v", got)
	}
}

func TestSQLiteStoreEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	for _, kind := range []string{"session-new", "status-update", "close"} {
		ev := &Event{CallSid: "CA1", Kind: kind, Ts: time.Now(), Payload: json.RawMessage(`{"k":"` + kind + `"}`)}
		if err := store.AddEvent(ctx, ev); err != nil {
			t.Fatalf("AddEvent failed: %v", err)
		}
	}
	if err := store.AddEvent(ctx, &Event{CallSid: "CA2", Kind: "final", Ts: time.Now()}); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	events, err := store.GetEvents(ctx, "CA1", 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 3 || events[0].Kind != "session-new" || events[2].Kind != "close" {
		t.Fatalf("unexpected events: %+v", events)
	}

	limited, err := store.GetEvents(ctx, "CA1", 2)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 events, got %d", len(limited))
	}
}

func TestSQLiteStoreUnknownCall(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	got, err := store.GetCall(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetCall failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}
