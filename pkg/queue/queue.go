// Package queue defines the transport-neutral Queue interface every
// backend (in-memory, redis, SQS) implements, plus the envelope and
// stats shapes the engine exchanges with it.
package queue

import (
	"context"
	"time"

	"github.com/deferrable-run/deferrable/pkg/item"
)

// Envelope wraps an Item as returned by Pop: every backend needs to hand
// back enough information for the caller to later Complete the same
// item, even when that information (a redis in-flight id, an SQS
// receipt handle) is backend-specific.
type Envelope struct {
	Item     item.Item
	Handle   string
	PoppedAt time.Time
}

// Stats summarizes a single queue's current depth, as reported by the
// admin HTTP surface and the CLI stats command.
type Stats struct {
	Group     string
	Ready     int64
	InFlight  int64
	Delayed   int64
	ErrorSize int64
}

// Queue is the minimal surface every backend must implement.
type Queue interface {
	// Push enqueues it, to be delivered no earlier than delaySeconds
	// from now. delaySeconds is 0 for immediate delivery.
	Push(ctx context.Context, it item.Item, delaySeconds int) error

	// Pop removes and returns the next ready item, blocking up to wait
	// before returning ok=false. A zero wait means a single
	// non-blocking attempt.
	Pop(ctx context.Context, wait time.Duration) (Envelope, bool, error)

	// Complete acknowledges that env was fully processed and may be
	// removed from any in-flight tracking the backend maintains.
	Complete(ctx context.Context, env Envelope) error

	// Flush drops every item currently held by the queue, ready,
	// delayed, or in-flight.
	Flush(ctx context.Context) error

	// Stat returns the queue's current depth.
	Stat(ctx context.Context) (Stats, error)

	// FIFO reports whether Pop order matches Push order. Backends with
	// a delay structure or a distributed fan-out (redis, SQS) are not
	// strictly FIFO once delayed items are involved.
	FIFO() bool

	// SupportsDelay reports whether delaySeconds passed to Push is
	// honored. A backend that returns false treats every Push as
	// immediate.
	SupportsDelay() bool
}

// BatchPusher is implemented by backends that can push multiple items in
// a single round trip.
type BatchPusher interface {
	PushBatch(ctx context.Context, items []item.Item, delaySeconds int) error
}

// BatchPopper is implemented by backends that can pop multiple items in
// a single round trip.
type BatchPopper interface {
	PopBatch(ctx context.Context, max int, wait time.Duration) ([]Envelope, error)
}

// BatchCompleter is implemented by backends that can acknowledge
// multiple envelopes in a single round trip.
type BatchCompleter interface {
	CompleteBatch(ctx context.Context, envs []Envelope) error
}

// Backend bundles a group's main queue with its associated error queue:
// failed items that exhaust their retries land in ErrorQueue rather than
// being requeued against Queue.
type Backend struct {
	Group      string
	Queue      Queue
	ErrorQueue Queue
}

// BackendFactory constructs a Backend for a named group, lazily,
// on-demand, since a worker process may only ever touch a handful of
// the groups registered in a large deployment.
type BackendFactory interface {
	CreateBackendForGroup(group string) (Backend, error)
}
