// Package redisqueue is the "reliable queue" Queue implementation: a
// main list for ready items, a hash plus timestamp zset tracking items
// currently in flight, and a delay zset for items not yet due. A
// reclaim pass runs opportunistically on every Pop, requeuing items
// that have sat in flight longer than the visibility timeout, on the
// assumption that whatever worker popped them died before completing
// them.
package redisqueue

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"

	"context"

	"github.com/deferrable-run/deferrable/pkg/item"
	"github.com/deferrable-run/deferrable/pkg/queue"
)

//go:embed lua/pop.lua
var popScript string

//go:embed lua/complete.lua
var completeScript string

//go:embed lua/reclaim.lua
var reclaimScript string

// Queue is a redis-backed queue.Queue.
type Queue struct {
	client  rueidis.Client
	keys    keyset
	timeout time.Duration

	pop     *rueidis.Lua
	complet *rueidis.Lua
	reclaim *rueidis.Lua
}

// New returns a Queue for group, namespaced under namespace so that
// multiple environments (staging, production) sharing a redis instance
// do not collide. timeout is the in-flight visibility window: an item
// popped and not completed within timeout is reclaimed on a later Pop.
func New(client rueidis.Client, namespace, group string, timeout time.Duration) *Queue {
	return &Queue{
		client:  client,
		keys:    keysFor(namespace, group),
		timeout: timeout,
		pop:     rueidis.NewLuaScript(popScript),
		complet: rueidis.NewLuaScript(completeScript),
		reclaim: rueidis.NewLuaScript(reclaimScript),
	}
}

func (q *Queue) Push(ctx context.Context, it item.Item, delaySeconds int) error {
	payload, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("redisqueue: marshal item: %w", err)
	}

	cmds := q.client.B()
	if delaySeconds <= 0 {
		cmd := cmds.Rpush().Key(q.keys.ready).Element(string(payload)).Build()
		return q.client.Do(ctx, cmd).Error()
	}
	readyAt := float64(time.Now().Add(time.Duration(delaySeconds) * time.Second).Unix())
	cmd := cmds.Zadd().Key(q.keys.delay).ScoreMember().ScoreMember(readyAt, string(payload)).Build()
	return q.client.Do(ctx, cmd).Error()
}

func (q *Queue) Pop(ctx context.Context, wait time.Duration) (queue.Envelope, bool, error) {
	now := time.Now()
	q.reclaimStale(ctx, now)

	deadline := now.Add(wait)
	for {
		handle := uuid.NewString()
		resp := q.pop.Exec(ctx, q.client, []string{q.keys.ready, q.keys.delay, q.keys.inflight, q.keys.inflightTS}, []string{
			fmt.Sprintf("%d", time.Now().Unix()),
			handle,
		})
		payload, err := resp.ToString()
		if err == nil {
			var it item.Item
			if err := json.Unmarshal([]byte(payload), &it); err != nil {
				return queue.Envelope{}, false, fmt.Errorf("redisqueue: unmarshal item: %w", err)
			}
			return queue.Envelope{Item: it, Handle: handle, PoppedAt: time.Now()}, true, nil
		}
		// A nil reply means the lua script found nothing ready; keep
		// polling until wait elapses. Any other error is returned.
		if !rueidis.IsRedisNil(err) {
			return queue.Envelope{}, false, fmt.Errorf("redisqueue: pop: %w", err)
		}
		if time.Now().After(deadline) {
			return queue.Envelope{}, false, nil
		}
		select {
		case <-ctx.Done():
			return queue.Envelope{}, false, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (q *Queue) reclaimStale(ctx context.Context, now time.Time) {
	cutoff := fmt.Sprintf("%d", now.Add(-q.timeout).Unix())
	q.reclaim.Exec(ctx, q.client, []string{q.keys.inflightTS, q.keys.inflight, q.keys.ready}, []string{cutoff})
}

func (q *Queue) Complete(ctx context.Context, env queue.Envelope) error {
	resp := q.complet.Exec(ctx, q.client, []string{q.keys.inflight, q.keys.inflightTS}, []string{env.Handle})
	return resp.Error()
}

func (q *Queue) Flush(ctx context.Context) error {
	cmd := q.client.B().Del().Key(q.keys.ready, q.keys.delay, q.keys.inflight, q.keys.inflightTS).Build()
	return q.client.Do(ctx, cmd).Error()
}

func (q *Queue) Stat(ctx context.Context) (queue.Stats, error) {
	client := q.client
	ready, err := client.Do(ctx, client.B().Llen().Key(q.keys.ready).Build()).ToInt64()
	if err != nil {
		return queue.Stats{}, err
	}
	delayed, err := client.Do(ctx, client.B().Zcard().Key(q.keys.delay).Build()).ToInt64()
	if err != nil {
		return queue.Stats{}, err
	}
	inFlight, err := client.Do(ctx, client.B().Hlen().Key(q.keys.inflight).Build()).ToInt64()
	if err != nil {
		return queue.Stats{}, err
	}
	return queue.Stats{Ready: ready, Delayed: delayed, InFlight: inFlight}, nil
}

func (q *Queue) FIFO() bool { return false }

func (q *Queue) SupportsDelay() bool { return true }

var _ queue.Queue = (*Queue)(nil)
