package ratelimit

import (
	"testing"

	"github.com/deferrable-run/deferrable/pkg/item"
)

func TestAllowThrottlesPerKey(t *testing.T) {
	l, err := New(Config{RatePerSecond: 1, Burst: 1, KeyExpr: `metadata["tenant"]`}, 64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	it := item.Item{Group: "work", Metadata: map[string]string{"tenant": "acme"}}
	allowed, err := l.Allow(it)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !allowed {
		t.Fatalf("expected first call within burst to be allowed")
	}

	allowed, err = l.Allow(it)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !allowed {
		t.Fatalf("expected second immediate call to use the burst of 1")
	}

	allowed, err = l.Allow(it)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatalf("expected third immediate call to exceed rate+burst of 1")
	}
}

func TestAllowIsolatesDistinctKeys(t *testing.T) {
	l, err := New(Config{RatePerSecond: 1, Burst: 1, KeyExpr: `metadata["tenant"]`}, 64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a := item.Item{Metadata: map[string]string{"tenant": "acme"}}
	b := item.Item{Metadata: map[string]string{"tenant": "globex"}}

	if allowed, err := l.Allow(a); err != nil || !allowed {
		t.Fatalf("Allow(a): allowed=%v err=%v", allowed, err)
	}
	if allowed, err := l.Allow(b); err != nil || !allowed {
		t.Fatalf("Allow(b): expected distinct key to have its own budget, allowed=%v err=%v", allowed, err)
	}
}

func TestNewRejectsInvalidExpression(t *testing.T) {
	if _, err := New(Config{RatePerSecond: 1, Burst: 1, KeyExpr: `this is not cel (((`}, 64); err == nil {
		t.Fatalf("expected an error for an invalid CEL expression")
	}
}
