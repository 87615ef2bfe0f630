package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemoryExpiresEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	if err := m.Set(ctx, "pos:session:a", []byte("x"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Set(ctx, "pos:session:b", []byte("y"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.Get(ctx, "pos:session:a"); ok {
		t.Fatalf("expected expired entry to be gone")
	}
	keys, err := m.Keys(ctx, "pos:session:")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "pos:session:b" {
		t.Fatalf("expected only the non-expiring key, got %v", keys)
	}
}

func TestJSONHelpersRoundTripThroughStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	type record struct {
		Name string `json:"name"`
	}
	if err := SetJSON(ctx, m, "k", record{Name: "counter-1"}, 0); err != nil {
		t.Fatalf("set json: %v", err)
	}
	var got record
	ok, err := GetJSON(ctx, m, "k", &got)
	if err != nil || !ok || got.Name != "counter-1" {
		t.Fatalf("unexpected read ok=%v err=%v got=%+v", ok, err, got)
	}
	ok, err = GetJSON(ctx, m, "missing", &got)
	if err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "k", []byte("abc"), 0)
	raw, _, _ := m.Get(ctx, "k")
	raw[0] = 'z'
	again, _, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("expected stored value to be isolated, got %q", again)
	}
}
