// Package memqueue is an in-memory Queue implementation backed by a
// doubly-linked ready list and a min-heap for delayed items. It does not
// reclaim items stuck in flight: a worker that pops and crashes without
// completing loses that item, which is acceptable for the single-process
// deployments memqueue targets (tests, local development).
package memqueue

import (
	"container/heap"
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deferrable-run/deferrable/pkg/item"
	"github.com/deferrable-run/deferrable/pkg/queue"
)

const pollInterval = 5 * time.Millisecond

// Queue is an in-memory queue.Queue.
type Queue struct {
	mu       sync.Mutex
	ready    *list.List
	delayed  delayHeap
	inFlight map[string]item.Item
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{
		ready:    list.New(),
		inFlight: make(map[string]item.Item),
	}
}

// promoteLocked moves any delayed entries whose readyAt has elapsed into
// the ready list. Callers must hold q.mu.
func (q *Queue) promoteLocked(now time.Time) {
	for {
		next := q.delayed.peek()
		if next == nil || next.readyAt.After(now) {
			return
		}
		entry := heap.Pop(&q.delayed).(*delayedEntry)
		q.ready.PushBack(entry.it)
	}
}

func (q *Queue) Push(ctx context.Context, it item.Item, delaySeconds int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if delaySeconds <= 0 {
		q.ready.PushBack(it)
		return nil
	}
	heap.Push(&q.delayed, &delayedEntry{
		it:      it,
		readyAt: time.Now().Add(time.Duration(delaySeconds) * time.Second),
	})
	return nil
}

func (q *Queue) Pop(ctx context.Context, wait time.Duration) (queue.Envelope, bool, error) {
	deadline := time.Now().Add(wait)
	for {
		q.mu.Lock()
		q.promoteLocked(time.Now())
		if q.ready.Len() > 0 {
			front := q.ready.Front()
			it := q.ready.Remove(front).(item.Item)
			handle := uuid.NewString()
			q.inFlight[handle] = it
			q.mu.Unlock()
			return queue.Envelope{Item: it, Handle: handle, PoppedAt: time.Now()}, true, nil
		}
		q.mu.Unlock()

		if wait <= 0 {
			return queue.Envelope{}, false, nil
		}
		select {
		case <-ctx.Done():
			return queue.Envelope{}, false, ctx.Err()
		case <-time.After(pollInterval):
		}
		if time.Now().After(deadline) {
			return queue.Envelope{}, false, nil
		}
	}
}

func (q *Queue) Complete(ctx context.Context, env queue.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, env.Handle)
	return nil
}

func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready.Init()
	q.delayed = q.delayed[:0]
	q.inFlight = make(map[string]item.Item)
	return nil
}

func (q *Queue) Stat(ctx context.Context) (queue.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queue.Stats{
		Ready:    int64(q.ready.Len()),
		Delayed:  int64(len(q.delayed)),
		InFlight: int64(len(q.inFlight)),
	}, nil
}

func (q *Queue) FIFO() bool { return true }

func (q *Queue) SupportsDelay() bool { return true }

var _ queue.Queue = (*Queue)(nil)
