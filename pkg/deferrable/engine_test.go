package deferrable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/deferrable-run/deferrable/pkg/debounce"
	"github.com/deferrable-run/deferrable/pkg/queue"
)

type wrongType struct{ error }

func newEngine() (*Engine, clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	e := New(queue.NewMemoryBackendFactory(), nil, nil, nil)
	e.WithClock(clock)
	return e, clock
}

func TestLaterAndRunOnceExecutesCallable(t *testing.T) {
	e, _ := newEngine()
	var ran bool
	e.Register("greet", func(ctx context.Context, args []any, kwargs map[string]any) error {
		ran = true
		return nil
	}, FuncOptions{Group: "greetings"})

	ctx := context.Background()
	if err := e.Later(ctx, "greet", []any{"world"}, nil); err != nil {
		t.Fatalf("Later: %v", err)
	}

	ok, err := e.RunOnce(ctx, "greetings", 0)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !ok {
		t.Fatalf("expected RunOnce to find an item")
	}
	if !ran {
		t.Fatalf("expected callable to have run")
	}
}

func TestRunOnceEmptyQueueReturnsFalse(t *testing.T) {
	e, _ := newEngine()
	e.Register("noop", func(ctx context.Context, args []any, kwargs map[string]any) error { return nil }, FuncOptions{Group: "idle"})

	ok, err := e.RunOnce(context.Background(), "idle", 0)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if ok {
		t.Fatalf("expected no item to be ready")
	}
}

func TestRetryOnFailureRequeuesUntilMaxAttempts(t *testing.T) {
	e, _ := newEngine()
	attempts := 0
	e.Register("flaky", func(ctx context.Context, args []any, kwargs map[string]any) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, FuncOptions{Group: "work", MaxAttempts: 5, RetriableErrorTypes: []string{"*errors.errorString"}})

	ctx := context.Background()
	if err := e.Later(ctx, "flaky", nil, nil); err != nil {
		t.Fatalf("Later: %v", err)
	}

	for i := 0; i < 3; i++ {
		ok, err := e.RunOnce(ctx, "work", 0)
		if err != nil {
			t.Fatalf("RunOnce iteration %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("expected an item on iteration %d", i)
		}
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestExhaustedRetriesRouteToErrorQueue(t *testing.T) {
	e, _ := newEngine()
	e.Register("always_fails", func(ctx context.Context, args []any, kwargs map[string]any) error {
		return errors.New("boom")
	}, FuncOptions{Group: "work", MaxAttempts: 2, RetriableErrorTypes: []string{"*errors.errorString"}})

	ctx := context.Background()
	if err := e.Later(ctx, "always_fails", nil, nil); err != nil {
		t.Fatalf("Later: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := e.RunOnce(ctx, "work", 0); err != nil {
			t.Fatalf("RunOnce iteration %d: %v", i, err)
		}
	}

	backend, err := e.factory.CreateBackendForGroup("work")
	if err != nil {
		t.Fatalf("CreateBackendForGroup: %v", err)
	}
	stats, err := backend.ErrorQueue.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stats.Ready != 1 {
		t.Fatalf("expected 1 item in the error queue, got %+v", stats)
	}
}

func TestNonRetriableErrorTypeSkipsRetry(t *testing.T) {
	e, _ := newEngine()
	calls := 0
	e.Register("type_sensitive", func(ctx context.Context, args []any, kwargs map[string]any) error {
		calls++
		return wrongType{errors.New("fatal")}
	}, FuncOptions{Group: "work", MaxAttempts: 5, RetriableErrorTypes: []string{"*errors.errorString"}})

	ctx := context.Background()
	if err := e.Later(ctx, "type_sensitive", nil, nil); err != nil {
		t.Fatalf("Later: %v", err)
	}
	if _, err := e.RunOnce(ctx, "work", 0); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call since the error type is not retriable, got %d", calls)
	}

	backend, _ := e.factory.CreateBackendForGroup("work")
	stats, _ := backend.ErrorQueue.Stat(ctx)
	if stats.Ready != 1 {
		t.Fatalf("expected the item to land in the error queue immediately, got %+v", stats)
	}
}

func TestTTLExpiryDropsItemWithoutRunning(t *testing.T) {
	e, clock := newEngine()
	ran := false
	e.Register("stale", func(ctx context.Context, args []any, kwargs map[string]any) error {
		ran = true
		return nil
	}, FuncOptions{Group: "work", TTLSeconds: 10})

	ctx := context.Background()
	if err := e.Later(ctx, "stale", nil, nil); err != nil {
		t.Fatalf("Later: %v", err)
	}
	clock.Advance(time.Hour)

	ok, err := e.RunOnce(ctx, "work", 0)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !ok {
		t.Fatalf("expected the expired item to still be popped and dropped")
	}
	if ran {
		t.Fatalf("expected the callable not to run for an expired item")
	}
}

// TestDebounceWindowS4 reproduces scenario S4: a 1-second, non-
// always_delay debounce window, three rapid identical calls. The first
// is immediately available (push_now/debounce_miss), the second is
// delayed to land at the end of the window (push_delayed/debounce_miss),
// and the third is skipped outright (debounce_hit) since a delayed push
// is already scheduled. After draining and letting the window elapse,
// exactly two invocations have occurred.
func TestDebounceWindowS4(t *testing.T) {
	controller := debounce.NewController(debounce.NewMemoryStore(16))
	e := New(queue.NewMemoryBackendFactory(), controller, nil, nil)

	calls := 0
	e.Register("debounced", func(ctx context.Context, args []any, kwargs map[string]any) error {
		calls++
		return nil
	}, FuncOptions{Group: "work", DebounceSeconds: 1})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := e.Later(ctx, "debounced", []any{1}, nil); err != nil {
			t.Fatalf("Later (call %d): %v", i, err)
		}
	}

	backend, err := e.factory.CreateBackendForGroup("work")
	if err != nil {
		t.Fatalf("CreateBackendForGroup: %v", err)
	}
	stats, err := backend.Queue.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stats.Ready+stats.Delayed != 2 {
		t.Fatalf("expected the first and second calls to be queued (third skipped), got %+v", stats)
	}

	ok, err := e.RunOnce(ctx, "work", 0)
	if err != nil {
		t.Fatalf("RunOnce (first, immediate): %v", err)
	}
	if !ok {
		t.Fatalf("expected the first call to be immediately ready")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 invocation so far, got %d", calls)
	}

	ok, err = e.RunOnce(ctx, "work", 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("RunOnce (second, after window elapses): %v", err)
	}
	if !ok {
		t.Fatalf("expected the delayed call to become ready within the wait")
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 invocations total, got %d", calls)
	}

	ok, err = e.RunOnce(ctx, "work", 0)
	if err != nil {
		t.Fatalf("RunOnce (third, drained): %v", err)
	}
	if ok {
		t.Fatalf("expected the queue to be empty after draining both calls")
	}
}

// TestDebounceWindowS5 reproduces scenario S5: a 1-second always_delay
// window. The first call is itself delayed a full window
// (debounce_miss), the second is skipped (debounce_hit) since the first
// already scheduled a delayed push. No item is available before the
// window elapses; after it elapses, exactly one invocation has
// occurred.
func TestDebounceWindowS5(t *testing.T) {
	controller := debounce.NewController(debounce.NewMemoryStore(16))
	e := New(queue.NewMemoryBackendFactory(), controller, nil, nil)

	calls := 0
	e.Register("debounced_delay", func(ctx context.Context, args []any, kwargs map[string]any) error {
		calls++
		return nil
	}, FuncOptions{Group: "work", DebounceSeconds: 1, DebounceAlwaysDelay: true})

	ctx := context.Background()
	if err := e.Later(ctx, "debounced_delay", []any{1}, nil); err != nil {
		t.Fatalf("Later (first): %v", err)
	}
	if err := e.Later(ctx, "debounced_delay", []any{1}, nil); err != nil {
		t.Fatalf("Later (second, should be skipped): %v", err)
	}

	backend, err := e.factory.CreateBackendForGroup("work")
	if err != nil {
		t.Fatalf("CreateBackendForGroup: %v", err)
	}
	stats, err := backend.Queue.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stats.Ready != 0 {
		t.Fatalf("expected no item available before the window elapses, got %+v", stats)
	}
	if stats.Delayed != 1 {
		t.Fatalf("expected exactly 1 delayed item (the second call skipped), got %+v", stats)
	}

	ok, err := e.RunOnce(ctx, "work", 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !ok {
		t.Fatalf("expected the delayed call to become ready within the wait")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 invocation, got %d", calls)
	}
}
