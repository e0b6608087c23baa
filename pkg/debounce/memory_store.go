package debounce

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/coocood/freecache"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	freecache_store "github.com/eko/gocache/store/freecache/v4"
)

// MemoryStore persists debounce window state in an in-process freecache
// cache. It is appropriate only for a single-worker deployment: unlike
// RedisStore, window state is not shared across processes.
type MemoryStore struct {
	lastPush *cache.Cache[string]
	flags    *cache.Cache[string]
}

// NewMemoryStore returns a Store with capacity sized for approximately
// maxEntries concurrently-open debounce windows.
func NewMemoryStore(maxEntries int) *MemoryStore {
	sizeBytes := maxEntries * 256
	if sizeBytes < 1<<20 {
		sizeBytes = 1 << 20
	}
	fc := freecache.NewCache(sizeBytes)
	backend := freecache_store.NewFreecache(fc)
	return &MemoryStore{
		lastPush: cache.New[string](backend),
		flags:    cache.New[string](backend),
	}
}

func (s *MemoryStore) GetDebounceKeys(ctx context.Context, debounceKey, lastPushKey string) (lastPush string, lastPushOK bool, flagPresent bool, err error) {
	lastPush, lpErr := s.lastPush.Get(ctx, lastPushKey)
	lastPushOK = lpErr == nil
	_, flErr := s.flags.Get(ctx, debounceKey)
	flagPresent = flErr == nil
	return lastPush, lastPushOK, flagPresent, nil
}

func (s *MemoryStore) SetDebounceKeys(ctx context.Context, debounceKey, lastPushKey string, now time.Time, secondsToDelay int, windowSeconds int) error {
	lastPushValue := now.Unix()
	if secondsToDelay > 0 {
		lastPushValue += int64(secondsToDelay)
	}
	lastPushTTL := time.Duration(2*windowSeconds) * time.Second
	if err := s.lastPush.Set(ctx, lastPushKey, strconv.FormatInt(lastPushValue, 10), store.WithExpiration(lastPushTTL)); err != nil {
		return fmt.Errorf("debounce: memory set last_push: %w", err)
	}
	if secondsToDelay > 0 {
		flagTTL := time.Duration(secondsToDelay) * time.Second
		if err := s.flags.Set(ctx, debounceKey, "1", store.WithExpiration(flagTTL)); err != nil {
			return fmt.Errorf("debounce: memory set flag: %w", err)
		}
	}
	return nil
}
