package ratelimiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNilLimiterNeverBlocks(t *testing.T) {
	var l *MethodLimiter
	if New(0, 1, 0) != nil {
		t.Fatal("expected nil limiter for zero rate")
	}
	if err := l.Wait(context.Background(), "pool.query"); err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
}

func TestLimiterSharesBucketPerNamespace(t *testing.T) {
	l := New(0.001, 1, time.Minute)
	wait := func(method string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		return l.Wait(ctx, method)
	}
	if err := wait("pool.query"); err != nil {
		t.Fatalf("expected first pool call admitted: %v", err)
	}
	if err := wait("pool.dataset.query"); err == nil {
		t.Fatal("expected pool namespace bucket exhausted")
	}
	if err := wait("system.info"); err != nil {
		t.Fatalf("expected independent bucket for system namespace: %v", err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	l := New(0.001, 1, time.Minute)
	if err := l.Wait(context.Background(), "core.ping"); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "core.ping"); err == nil {
		t.Fatal("expected wait to fail once bucket is empty")
	} else if errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected cancel error: %v", err)
	}
}

func TestNamespace(t *testing.T) {
	cases := map[string]string{
		"pool.dataset.query": "pool",
		"core.ping":          "core",
		"ping":               "ping",
		" ":                  "",
	}
	for in, want := range cases {
		if got := Namespace(in); got != want {
			t.Fatalf("Namespace(%q)=%q, want %q", in, got, want)
		}
	}
}
