package debounce

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"
)

//go:embed lua/get_debounce_keys.lua
var getDebounceKeysScript string

//go:embed lua/set_debounce_keys.lua
var setDebounceKeysScript string

// RedisStore persists debounce window state in redis via two small Lua
// scripts, so that the two-key read and the two-key write are each a
// single atomic round trip, per spec's debounce store contract.
type RedisStore struct {
	client rueidis.Client
	get    *rueidis.Lua
	set    *rueidis.Lua
}

// NewRedisStore returns a Store backed by client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		get:    rueidis.NewLuaScript(getDebounceKeysScript),
		set:    rueidis.NewLuaScript(setDebounceKeysScript),
	}
}

func (s *RedisStore) GetDebounceKeys(ctx context.Context, debounceKey, lastPushKey string) (lastPush string, lastPushOK bool, flagPresent bool, err error) {
	resp := s.get.Exec(ctx, s.client, []string{debounceKey, lastPushKey}, nil)
	arr, err := resp.ToArray()
	if err != nil {
		return "", false, false, fmt.Errorf("debounce: redis get_debounce_keys: %w", err)
	}
	if len(arr) != 2 {
		return "", false, false, fmt.Errorf("debounce: unexpected get_debounce_keys reply shape")
	}
	lastPush, lpErr := arr[0].ToString()
	lastPushOK = lpErr == nil
	_, flErr := arr[1].ToString()
	flagPresent = flErr == nil
	return lastPush, lastPushOK, flagPresent, nil
}

func (s *RedisStore) SetDebounceKeys(ctx context.Context, debounceKey, lastPushKey string, now time.Time, secondsToDelay int, windowSeconds int) error {
	resp := s.set.Exec(ctx, s.client, []string{debounceKey, lastPushKey}, []string{
		strconv.FormatInt(now.Unix(), 10),
		strconv.Itoa(secondsToDelay),
		strconv.Itoa(windowSeconds),
	})
	if err := resp.Error(); err != nil {
		return fmt.Errorf("debounce: redis set_debounce_keys: %w", err)
	}
	return nil
}
