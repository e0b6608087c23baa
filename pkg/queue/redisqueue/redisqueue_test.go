package redisqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"

	"github.com/deferrable-run/deferrable/pkg/item"
)

func newTestClient(t *testing.T) (rueidis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{mr.Addr()},
		DisableCache: true,
	})
	if err != nil {
		t.Fatalf("rueidis.NewClient: %v", err)
	}
	t.Cleanup(client.Close)
	return client, mr
}

func TestRedisQueuePushPopComplete(t *testing.T) {
	client, _ := newTestClient(t)
	q := New(client, "test", "emails", time.Minute)
	ctx := context.Background()

	if err := q.Push(ctx, item.Item{Method: "send"}, 0); err != nil {
		t.Fatalf("Push: %v", err)
	}

	env, ok, err := q.Pop(ctx, 0)
	if err != nil || !ok {
		t.Fatalf("Pop: ok=%v err=%v", ok, err)
	}
	if env.Item.Method != "send" {
		t.Fatalf("unexpected item: %+v", env.Item)
	}

	stats, err := q.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stats.InFlight != 1 {
		t.Fatalf("expected 1 in-flight item, got %d", stats.InFlight)
	}

	if err := q.Complete(ctx, env); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	stats, err = q.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stats.InFlight != 0 {
		t.Fatalf("expected 0 in-flight after Complete, got %d", stats.InFlight)
	}
}

func TestRedisQueueDelayedNotReadyImmediately(t *testing.T) {
	client, _ := newTestClient(t)
	q := New(client, "test", "emails", time.Minute)
	ctx := context.Background()

	if err := q.Push(ctx, item.Item{Method: "later"}, 3600); err != nil {
		t.Fatalf("Push: %v", err)
	}
	_, ok, err := q.Pop(ctx, 0)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if ok {
		t.Fatalf("expected delayed item to not be ready yet")
	}
	stats, err := q.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stats.Delayed != 1 {
		t.Fatalf("expected 1 delayed item, got %d", stats.Delayed)
	}
}

func TestRedisQueueFlush(t *testing.T) {
	client, _ := newTestClient(t)
	q := New(client, "test", "emails", time.Minute)
	ctx := context.Background()

	q.Push(ctx, item.Item{Method: "a"}, 0)
	q.Push(ctx, item.Item{Method: "b"}, 3600)
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	stats, err := q.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stats.Ready != 0 || stats.Delayed != 0 {
		t.Fatalf("expected empty queue after Flush, got %+v", stats)
	}
}

func TestErrorQueuePopDoesNotDelete(t *testing.T) {
	client, _ := newTestClient(t)
	eq := NewErrorQueue(client, "test", "emails")
	ctx := context.Background()

	it := item.Item{Method: "send", Error: &item.Error{ID: "err-1", ErrorText: "boom"}}
	if err := eq.Push(ctx, it, 0); err != nil {
		t.Fatalf("Push: %v", err)
	}

	first, ok, err := eq.Pop(ctx, 0)
	if err != nil || !ok {
		t.Fatalf("Pop: ok=%v err=%v", ok, err)
	}
	second, ok, err := eq.Pop(ctx, 0)
	if err != nil || !ok {
		t.Fatalf("second Pop: ok=%v err=%v", ok, err)
	}
	if first.Item.Error.ID != second.Item.Error.ID {
		t.Fatalf("expected repeated Pop to return the same entry")
	}

	if err := eq.Complete(ctx, first); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	_, ok, err = eq.Pop(ctx, 0)
	if err != nil {
		t.Fatalf("Pop after Complete: %v", err)
	}
	if ok {
		t.Fatalf("expected error queue to be empty after Complete")
	}
}
