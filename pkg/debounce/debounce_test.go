package debounce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deferrable-run/deferrable/pkg/item"
)

func TestGetStrategyNoWindowConfigured(t *testing.T) {
	c := NewController(NewMemoryStore(16))
	it := item.Item{Method: "m", Args: "a", Kwargs: "k"}

	strategy, delay, err := c.GetStrategy(context.Background(), it, time.Now())
	require.NoError(t, err)
	require.Equal(t, PushNow, strategy)
	require.Zero(t, delay)
}

// TestGetStrategyWindowLifecycle walks the full S4-shaped sequence: the
// first call opens the window (push_now), a second call within the
// window is delayed to land at the end of it (push_delayed), and a
// third call made while that delayed push is still scheduled is
// skipped outright.
func TestGetStrategyWindowLifecycle(t *testing.T) {
	c := NewController(NewMemoryStore(16))
	it := item.Item{Method: "m", Args: "a", Kwargs: "k", OriginalDebounceSeconds: 10}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, firstDelay, err := c.GetStrategy(context.Background(), it, now)
	require.NoError(t, err)
	require.Equal(t, PushNow, first, "first call should open the window")
	require.Zero(t, firstDelay)

	second, secondDelay, err := c.GetStrategy(context.Background(), it, now.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, PushDelayed, second, "second call within window should be pushed delayed")
	require.Equal(t, 8, secondDelay, "should delay by the remaining window (ceil(10-2))")

	third, thirdDelay, err := c.GetStrategy(context.Background(), it, now.Add(3*time.Second))
	require.NoError(t, err)
	require.Equal(t, Skip, third, "third call while a delayed push is scheduled should skip")
	require.Zero(t, thirdDelay)
}

func TestGetStrategyDelayRoundsUp(t *testing.T) {
	c := NewController(NewMemoryStore(16))
	it := item.Item{Method: "m", Args: "a", Kwargs: "k", OriginalDebounceSeconds: 10}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := c.GetStrategy(context.Background(), it, now)
	require.NoError(t, err)

	strategy, delay, err := c.GetStrategy(context.Background(), it, now.Add(2500*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, PushDelayed, strategy)
	require.Equal(t, 8, delay, "7.5s remaining should round up to 8")
}

// TestGetStrategyAlwaysDelayFirstCallIsDelayed covers S5: even the very
// first always_delay call must be delayed a full window, not pushed
// immediately.
func TestGetStrategyAlwaysDelayFirstCallIsDelayed(t *testing.T) {
	c := NewController(NewMemoryStore(16))
	it := item.Item{
		Method: "m", Args: "a", Kwargs: "k",
		OriginalDebounceSeconds:     10,
		OriginalDebounceAlwaysDelay: true,
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	strategy, delay, err := c.GetStrategy(context.Background(), it, now)
	require.NoError(t, err)
	require.Equal(t, PushDelayed, strategy, "first always_delay call must still be delayed a full window")
	require.Equal(t, 10, delay)
}

func TestGetStrategyAlwaysDelaySkipsWhileScheduled(t *testing.T) {
	c := NewController(NewMemoryStore(16))
	it := item.Item{
		Method: "m", Args: "a", Kwargs: "k",
		OriginalDebounceSeconds:     10,
		OriginalDebounceAlwaysDelay: true,
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := c.GetStrategy(context.Background(), it, now)
	require.NoError(t, err)

	strategy, _, err := c.GetStrategy(context.Background(), it, now.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, Skip, strategy, "a second call while the delayed push is still scheduled should skip")
}

func TestGetStrategyReopensAfterWindowElapses(t *testing.T) {
	c := NewController(NewMemoryStore(16))
	it := item.Item{Method: "m", Args: "a", Kwargs: "k", OriginalDebounceSeconds: 1}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := c.GetStrategy(context.Background(), it, now)
	require.NoError(t, err)

	strategy, delay, err := c.GetStrategy(context.Background(), it, now.Add(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, PushNow, strategy, "window should have elapsed")
	require.Zero(t, delay)
}

func TestGetStrategyDistinctFingerprintsDoNotCollide(t *testing.T) {
	c := NewController(NewMemoryStore(16))
	a := item.Item{Method: "m", Args: "a1", Kwargs: "k", OriginalDebounceSeconds: 10}
	b := item.Item{Method: "m", Args: "a2", Kwargs: "k", OriginalDebounceSeconds: 10}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := c.GetStrategy(context.Background(), a, now)
	require.NoError(t, err)

	strategy, _, err := c.GetStrategy(context.Background(), b, now)
	require.NoError(t, err)
	require.Equal(t, PushNow, strategy, "distinct fingerprint should open its own window")
}
