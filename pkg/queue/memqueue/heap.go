package memqueue

import (
	"container/heap"
	"time"

	"github.com/deferrable-run/deferrable/pkg/item"
)

// delayedEntry is one item waiting for its delay to elapse before it is
// promoted into the ready list.
type delayedEntry struct {
	it      item.Item
	readyAt time.Time
	index   int
}

// delayHeap is a min-heap ordered by readyAt, the same shape as the
// workHeap idiom used for graph-scheduler priority queues: the
// container/heap.Interface methods only ever compare and swap, leaving
// ordering semantics entirely to Less.
type delayHeap []*delayedEntry

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool { return h[i].readyAt.Before(h[j].readyAt) }

func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayHeap) Push(x any) {
	entry := x.(*delayedEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// peek returns the earliest-ready entry without removing it.
func (h delayHeap) peek() *delayedEntry {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

var _ heap.Interface = (*delayHeap)(nil)
