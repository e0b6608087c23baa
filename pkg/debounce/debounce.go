// Package debounce decides, for a given callable fingerprint, whether a
// new later() call should be pushed immediately, pushed delayed to the
// end of the current debounce window, or skipped because a delayed
// push for that fingerprint is already scheduled within the window.
package debounce

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/deferrable-run/deferrable/pkg/item"
)

// Strategy is the outcome of a debounce decision.
type Strategy int

const (
	// PushNow means no debounce window is currently open; push the item
	// immediately and open a fresh window.
	PushNow Strategy = iota
	// PushDelayed means the item should be pushed now but scheduled to
	// land only once the current window elapses (an always_delay
	// window, or the tail of a window that has no delayed push
	// scheduled for it yet).
	PushDelayed
	// Skip means a delayed push for this fingerprint is already
	// scheduled within the window (the debounce.F sentinel is present);
	// drop this call.
	Skip
)

func (s Strategy) String() string {
	switch s {
	case PushNow:
		return "push_now"
	case PushDelayed:
		return "push_delayed"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// maxKeyBytes bounds how long a fingerprint can grow before it is hashed
// down to a fixed-width key. Long canonical-JSON argument encodings would
// otherwise make for unwieldy redis keys.
const maxKeyBytes = 200

// Store is the storage backend a Controller persists debounce window
// state to. Implementations: NewRedisStore (rueidis, shared across
// workers) and NewMemoryStore (in-process, single worker only).
type Store interface {
	// GetDebounceKeys atomically reads both window-state keys for a
	// fingerprint. lastPushOK reports whether a last_push.F timestamp
	// is present; flagPresent reports whether the debounce.F sentinel
	// is present (set only while a delayed push is still pending for
	// that fingerprint).
	GetDebounceKeys(ctx context.Context, debounceKey, lastPushKey string) (lastPush string, lastPushOK bool, flagPresent bool, err error)

	// SetDebounceKeys atomically writes both window-state keys,
	// mirroring the set_debounce_keys(now, seconds_to_delay,
	// window_seconds) contract: last_push.F is set to now
	// (secondsToDelay == 0) or now+secondsToDelay (secondsToDelay > 0),
	// with TTL 2*windowSeconds; debounce.F is set, with TTL
	// secondsToDelay, only when secondsToDelay > 0.
	SetDebounceKeys(ctx context.Context, debounceKey, lastPushKey string, now time.Time, secondsToDelay int, windowSeconds int) error
}

// Controller applies the debounce decision algorithm against a Store.
type Controller struct {
	store Store
}

// NewController returns a Controller backed by store.
func NewController(store Store) *Controller {
	return &Controller{store: store}
}

// keysFor derives the two storage keys associated with a fingerprint,
// hashing it first if it is long enough to be an unwieldy storage key.
func keysFor(fingerprint string) (debounceKey, lastPushKey string) {
	key := fingerprint
	if len(key) > maxKeyBytes {
		key = fmt.Sprintf("%x", xxhash.Sum64String(fingerprint))
	}
	return "debounce:" + key, "debounce:" + key + ":last_push"
}

// GetStrategy implements get_debounce_strategy: it atomically reads the
// current window state for it's fingerprint, decides how the push
// should be handled, persists the resulting window state for every
// outcome but Skip (which leaves the store untouched, since the call
// already scheduled within the window remains the one that will run),
// and returns the strategy along with the number of seconds the caller
// should delay its push by (0 for PushNow and Skip).
func (c *Controller) GetStrategy(ctx context.Context, it item.Item, now time.Time) (Strategy, int, error) {
	windowSeconds := it.OriginalDebounceSeconds
	if windowSeconds <= 0 {
		return PushNow, 0, nil
	}

	debounceKey, lastPushKey := keysFor(it.Fingerprint())
	lastPush, lastPushOK, flagPresent, err := c.store.GetDebounceKeys(ctx, debounceKey, lastPushKey)
	if err != nil {
		return PushNow, 0, fmt.Errorf("debounce: read window state: %w", err)
	}

	// Step 2: a delayed push is already scheduled for this fingerprint.
	if flagPresent {
		return Skip, 0, nil
	}

	// Step 3: always_delay pushes land at the end of the window
	// regardless of whether one is already open.
	if it.OriginalDebounceAlwaysDelay {
		if err := c.store.SetDebounceKeys(ctx, debounceKey, lastPushKey, now, windowSeconds, windowSeconds); err != nil {
			return PushDelayed, windowSeconds, fmt.Errorf("debounce: open always-delay window: %w", err)
		}
		return PushDelayed, windowSeconds, nil
	}

	// Step 4: no window open at all.
	if !lastPushOK {
		if err := c.store.SetDebounceKeys(ctx, debounceKey, lastPushKey, now, 0, windowSeconds); err != nil {
			return PushNow, 0, fmt.Errorf("debounce: open window: %w", err)
		}
		return PushNow, 0, nil
	}

	lastPushUnix, perr := strconv.ParseInt(lastPush, 10, 64)
	if perr != nil {
		// Unparseable state should never block execution: treat it as
		// no window open rather than erroring the whole call out.
		if err := c.store.SetDebounceKeys(ctx, debounceKey, lastPushKey, now, 0, windowSeconds); err != nil {
			return PushNow, 0, fmt.Errorf("debounce: reopen window: %w", err)
		}
		return PushNow, 0, nil
	}

	// Step 5: age the existing window.
	age := now.Sub(time.Unix(lastPushUnix, 0))
	window := time.Duration(windowSeconds) * time.Second
	if age > window {
		if err := c.store.SetDebounceKeys(ctx, debounceKey, lastPushKey, now, 0, windowSeconds); err != nil {
			return PushNow, 0, fmt.Errorf("debounce: reopen window: %w", err)
		}
		return PushNow, 0, nil
	}

	secondsToDelay := int(math.Ceil((window - age).Seconds()))
	if err := c.store.SetDebounceKeys(ctx, debounceKey, lastPushKey, now, secondsToDelay, windowSeconds); err != nil {
		return PushDelayed, secondsToDelay, fmt.Errorf("debounce: extend window: %w", err)
	}
	return PushDelayed, secondsToDelay, nil
}
