package ristretto

import (
	"context"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestSetAndGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, found, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected found after Set")
	}
	if string(val) != "v" {
		t.Fatalf("expected v, got %s", val)
	}
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t)

	_, found, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss for nonexistent key")
	}
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "del", []byte("v"), time.Minute)
	if err := c.Delete(ctx, "del"); err != nil {
		t.Fatal(err)
	}
	_, found, err := c.Get(ctx, "del")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss after Delete")
	}

	// Deleting a key that never existed is not an error.
	if err := c.Delete(ctx, "never-existed"); err != nil {
		t.Fatal(err)
	}
}

func TestOverwrite(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "ow", []byte("v1"), time.Minute)
	_ = c.Set(ctx, "ow", []byte("v2"), time.Minute)

	val, found, err := c.Get(ctx, "ow")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected found after overwrite")
	}
	if string(val) != "v2" {
		t.Fatalf("expected v2, got %s", val)
	}
}
