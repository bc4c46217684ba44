package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/gatecache/pkg/cache"
	"github.com/pario-ai/gatecache/pkg/models"
)

func newTestTier(t *testing.T) *Tier {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	c, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	c := newTestTier(t)

	e := cache.Entry{
		Payload:   []byte(`{"response":"hello"}`),
		Model:     "claude-sonnet-4-5",
		Usage:     models.Usage{InputTokens: 12, OutputTokens: 3},
		WouldBe:   models.NanosFromUSD(0.01),
		CreatedAt: time.Now(),
	}
	if err := c.Set(ctx, "k1", e, time.Hour); err != nil {
		t.Fatal(err)
	}

	got, ok, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got.Payload) != `{"response":"hello"}` {
		t.Errorf("unexpected payload: %s", got.Payload)
	}
	if got.Usage != e.Usage || got.WouldBe != e.WouldBe {
		t.Errorf("metadata lost: %+v", got)
	}

	_, ok, err = c.Get(ctx, "k2")
	if err != nil || ok {
		t.Errorf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestTTLExpiration(t *testing.T) {
	ctx := context.Background()
	c := newTestTier(t)

	if err := c.Set(ctx, "k", cache.Entry{Payload: []byte("data")}, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected miss after TTL expiration")
	}
	n, _, _ := c.Count(ctx)
	if n != 0 {
		t.Errorf("expected expired row deleted, got %d rows", n)
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	c := newTestTier(t)

	_ = c.Set(ctx, "short", cache.Entry{Payload: []byte("a")}, time.Millisecond)
	_ = c.Set(ctx, "long", cache.Entry{Payload: []byte("bb")}, time.Hour)
	_ = c.Set(ctx, "forever", cache.Entry{Payload: []byte("ccc")}, 0)
	time.Sleep(10 * time.Millisecond)

	n, err := c.Prune(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
	rows, size, _ := c.Count(ctx)
	if rows != 2 || size != 5 {
		t.Errorf("expected 2 rows / 5 bytes, got %d / %d", rows, size)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	c := newTestTier(t)

	_ = c.Set(ctx, "h1", cache.Entry{Payload: []byte("data")}, time.Hour)
	_ = c.Set(ctx, "h2", cache.Entry{Payload: []byte("data")}, time.Hour)

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}

	n, _, _ := c.Count(ctx)
	if n != 0 {
		t.Errorf("expected 0 entries after clear, got %d", n)
	}
}

func TestStoreWithSQLiteTier(t *testing.T) {
	ctx := context.Background()
	tier := newTestTier(t)

	s := cache.New(cache.Options{Tier: tier, TTL: time.Hour})
	if err := s.Insert(ctx, "k", cache.Entry{Payload: []byte("persisted")}); err != nil {
		t.Fatal(err)
	}

	restarted := cache.New(cache.Options{Tier: tier, TTL: time.Hour})
	got, ok := restarted.Lookup(ctx, "k")
	if !ok {
		t.Fatal("expected hit from sqlite tier")
	}
	if string(got.Payload) != "persisted" {
		t.Errorf("unexpected payload %q", got.Payload)
	}
}
