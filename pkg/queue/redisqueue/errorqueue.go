package redisqueue

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/deferrable-run/deferrable/pkg/item"
	"github.com/deferrable-run/deferrable/pkg/queue"
)

//go:embed lua/error_push.lua
var errorPushScript string

//go:embed lua/error_peek.lua
var errorPeekScript string

//go:embed lua/error_complete.lua
var errorCompleteScript string

// ErrorQueue is the error-queue counterpart of Queue. Unlike Queue, Pop
// does not remove the entry it returns: an item stays visible to repeat
// Pop calls until a caller explicitly Completes it by the id recorded on
// item.Item.Error.ID. This lets an operator inspect a failed item
// without racing other error-queue consumers over it.
type ErrorQueue struct {
	client rueidis.Client
	keys   keyset

	push     *rueidis.Lua
	peek     *rueidis.Lua
	complete *rueidis.Lua
}

// NewErrorQueue returns the error queue associated with group.
func NewErrorQueue(client rueidis.Client, namespace, group string) *ErrorQueue {
	return &ErrorQueue{
		client:   client,
		keys:     keysFor(namespace, group),
		push:     rueidis.NewLuaScript(errorPushScript),
		peek:     rueidis.NewLuaScript(errorPeekScript),
		complete: rueidis.NewLuaScript(errorCompleteScript),
	}
}

func (q *ErrorQueue) Push(ctx context.Context, it item.Item, delaySeconds int) error {
	if it.Error == nil || it.Error.ID == "" {
		return fmt.Errorf("redisqueue: cannot push to error queue without an error id")
	}
	payload, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("redisqueue: marshal error item: %w", err)
	}
	resp := q.push.Exec(ctx, q.client, []string{q.keys.errorOrder, q.keys.errorHash}, []string{it.Error.ID, string(payload)})
	return resp.Error()
}

// Pop peeks the oldest error entry without removing it. Complete is the
// only operation that removes an entry from the error queue.
func (q *ErrorQueue) Pop(ctx context.Context, wait time.Duration) (queue.Envelope, bool, error) {
	resp := q.peek.Exec(ctx, q.client, []string{q.keys.errorOrder, q.keys.errorHash}, nil)
	arr, err := resp.ToArray()
	if err != nil || len(arr) != 2 {
		return queue.Envelope{}, false, nil
	}
	id, err := arr[0].ToString()
	if err != nil {
		return queue.Envelope{}, false, nil
	}
	payload, err := arr[1].ToString()
	if err != nil {
		return queue.Envelope{}, false, nil
	}
	var it item.Item
	if err := json.Unmarshal([]byte(payload), &it); err != nil {
		return queue.Envelope{}, false, fmt.Errorf("redisqueue: unmarshal error item: %w", err)
	}
	return queue.Envelope{Item: it, Handle: id, PoppedAt: time.Now()}, true, nil
}

// Complete deletes the error entry identified by env.Item.Error.ID,
// falling back to env.Handle if the item's error id was stripped.
func (q *ErrorQueue) Complete(ctx context.Context, env queue.Envelope) error {
	id := env.Handle
	if env.Item.Error != nil && env.Item.Error.ID != "" {
		id = env.Item.Error.ID
	}
	if id == "" {
		return fmt.Errorf("redisqueue: cannot complete error entry without an id")
	}
	resp := q.complete.Exec(ctx, q.client, []string{q.keys.errorOrder, q.keys.errorHash}, []string{id})
	return resp.Error()
}

func (q *ErrorQueue) Flush(ctx context.Context) error {
	cmd := q.client.B().Del().Key(q.keys.errorOrder, q.keys.errorHash).Build()
	return q.client.Do(ctx, cmd).Error()
}

func (q *ErrorQueue) Stat(ctx context.Context) (queue.Stats, error) {
	size, err := q.client.Do(ctx, q.client.B().Hlen().Key(q.keys.errorHash).Build()).ToInt64()
	if err != nil {
		return queue.Stats{}, err
	}
	return queue.Stats{ErrorSize: size}, nil
}

func (q *ErrorQueue) FIFO() bool { return true }

func (q *ErrorQueue) SupportsDelay() bool { return false }

var _ queue.Queue = (*ErrorQueue)(nil)
