package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), mr.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("connect to miniredis: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if state, err := store.Get(ctx, "missing"); err != nil || state != nil {
		t.Fatalf("missing session: got (%v, %v), want (nil, nil)", state, err)
	}

	if err := store.RecordTurn(ctx, "s1", "bob", TurnRecord{Length: 30, ThreatScore: 0.7}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordTurn(ctx, "s1", "", TurnRecord{Length: 120, FromCounterpart: true}); err != nil {
		t.Fatal(err)
	}

	state, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if state == nil {
		t.Fatal("expected session state")
	}
	if state.IdentityID != "bob" {
		t.Errorf("identity = %q, want bob", state.IdentityID)
	}
	if len(state.Turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(state.Turns))
	}
	if state.RecentThreatCount != 1 {
		t.Errorf("RecentThreatCount = %d, want 1", state.RecentThreatCount)
	}
}

func TestRedisStoreDelete(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	store.RecordTurn(ctx, "s1", "", TurnRecord{})
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if state, _ := store.Get(ctx, "s1"); state != nil {
		t.Error("expected deleted session to read as missing")
	}
}

func TestRedisStoreTTLRefresh(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), mr.Addr(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	store.RecordTurn(ctx, "s1", "", TurnRecord{})
	mr.FastForward(45 * time.Second)
	store.RecordTurn(ctx, "s1", "", TurnRecord{})
	mr.FastForward(45 * time.Second)

	state, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if state == nil {
		t.Fatal("expected session to survive, TTL should refresh on write")
	}

	mr.FastForward(2 * time.Minute)
	if state, _ := store.Get(ctx, "s1"); state != nil {
		t.Error("expected session to expire after TTL with no writes")
	}
}
