package cachemem

import (
	"context"
	"testing"
	"time"

	"certnode/internal/domain"
)

func TestCache_ExpiresEntries(t *testing.T) {
	now := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	c := NewWithClock(func() time.Time { return now })
	ctx := context.Background()

	want := domain.Verification{Valid: true, ReceiptID: "r1"}
	if err := c.Put(ctx, "k", want, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || got.ReceiptID != "r1" {
		t.Fatalf("expected cached value, got %+v %v %v", got, ok, err)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("expected entry to expire")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be evicted")
	}
}

func TestCache_NoTTLKeeps(t *testing.T) {
	c := New()
	ctx := context.Background()
	_ = c.Put(ctx, "k", domain.Verification{Reason: domain.ReasonHashMismatch}, 0)
	got, ok, _ := c.Get(ctx, "k")
	if !ok || got.Reason != domain.ReasonHashMismatch {
		t.Fatalf("expected entry without ttl to persist")
	}
}

func TestCache_NilIsNoop(t *testing.T) {
	var c *Cache
	if err := c.Put(context.Background(), "k", domain.Verification{}, 0); err != nil {
		t.Fatalf("put on nil cache: %v", err)
	}
	if _, ok, _ := c.Get(context.Background(), "k"); ok {
		t.Fatalf("expected miss on nil cache")
	}
}
