package cache

import (
	"context"
	"testing"
	"time"
)

func TestBuildKeyExcludesUnderscorePrefixedArgsAndKwargs(t *testing.T) {
	k1, bypass1, err1 := BuildKey("fetch_igc", []any{123, "_retry"}, map[string]string{"_head": "true", "proxy": "p1"})
	k2, bypass2, err2 := BuildKey("fetch_igc", []any{123}, map[string]string{"proxy": "p1"})
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected error: %v, %v", err1, err2)
	}
	if bypass1 || bypass2 {
		t.Fatalf("unexpected bypass")
	}
	if k1 != k2 {
		t.Fatalf("expected underscore-prefixed args/kwargs to be excluded from the key, got %q vs %q", k1, k2)
	}
}

func TestBuildKeyBypassesSentinelUser(t *testing.T) {
	_, bypass, err := BuildKey("list_flights", []any{BypassUserID, 2020}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bypass {
		t.Fatal("expected bypass sentinel user id to set bypass=true")
	}
}

func TestBuildKeyStableOrderingOfKwargs(t *testing.T) {
	k1, _, _ := BuildKey("op", nil, map[string]string{"b": "2", "a": "1"})
	k2, _, _ := BuildKey("op", nil, map[string]string{"a": "1", "b": "2"})
	if k1 != k2 {
		t.Fatalf("expected kwarg ordering to not affect the key, got %q vs %q", k1, k2)
	}
}

func TestBuildKeyErrorsWithNoContributingArgs(t *testing.T) {
	_, _, err := BuildKey("noop", []any{"_internal"}, map[string]string{"_flag": "true"})
	if err == nil {
		t.Fatal("expected an error when every arg/kwarg is excluded")
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache(0, nil)
	defer c.Close()

	ctx := context.Background()
	type payload struct {
		Value int `json:"value"`
	}

	ok, err := c.Get(ctx, "missing", &payload{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected miss for unset key")
	}

	if err := c.Set(ctx, "k", payload{Value: 42}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got payload
	ok, err = c.Get(ctx, "k", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || got.Value != 42 {
		t.Fatalf("expected hit with value 42, got ok=%v value=%d", ok, got.Value)
	}
}

func TestMemoryCacheExpiresEntries(t *testing.T) {
	c := NewMemoryCache(0, nil)
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	var out string
	ok, err := c.Get(ctx, "k", &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected entry to have expired")
	}
}
