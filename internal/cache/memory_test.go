package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryProvider()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("expected hit, got %q, %v", got, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
}

func TestMemoryProviderSetNX(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "lock", []byte("a"), 0)
	if err != nil || !ok {
		t.Fatalf("expected first SetNX to win, got %v, %v", ok, err)
	}
	ok, err = m.SetNX(ctx, "lock", []byte("b"), 0)
	if err != nil || ok {
		t.Fatalf("expected second SetNX to lose, got %v, %v", ok, err)
	}
	if err := m.Del(ctx, "lock"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if ok, _ := m.SetNX(ctx, "lock", []byte("c"), 0); !ok {
		t.Fatalf("expected SetNX after delete to win")
	}
}

func TestJSONHelpers(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()

	if err := SetJSON(ctx, m, "vec", []float32{0.5, 1}, 0); err != nil {
		t.Fatalf("set json: %v", err)
	}
	var out []float32
	if err := GetJSON(ctx, m, "vec", &out); err != nil {
		t.Fatalf("get json: %v", err)
	}
	if len(out) != 2 || out[1] != 1 {
		t.Fatalf("unexpected decoded value %v", out)
	}

	_ = m.Set(ctx, "bad", []byte("{"), 0)
	if err := GetJSON(ctx, m, "bad", &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected decode failure to be a miss, got %v", err)
	}

	if err := GetJSON(ctx, NoopProvider{}, "vec", &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected noop miss, got %v", err)
	}
}
