// Package deferrable is the engine that ties together codec, debounce,
// queue, metadata, and events into the producer/worker API: Register a
// callable once, call Later to enqueue an invocation of it, and run
// RunOnce in a loop to pop and execute queued invocations.
package deferrable

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc/panics"

	"github.com/deferrable-run/deferrable/pkg/backoff"
	"github.com/deferrable-run/deferrable/pkg/codec"
	"github.com/deferrable-run/deferrable/pkg/debounce"
	"github.com/deferrable-run/deferrable/pkg/events"
	"github.com/deferrable-run/deferrable/pkg/item"
	"github.com/deferrable-run/deferrable/pkg/metadata"
	"github.com/deferrable-run/deferrable/pkg/queue"
	"github.com/deferrable-run/deferrable/pkg/ttl"
)

// DefaultMaxAttempts is used for a callable registered without an
// explicit FuncOptions.MaxAttempts.
const DefaultMaxAttempts = 5

// Engine is the central object an application constructs once at
// startup: it owns the callable registry, the queue backend factory,
// and the optional debounce, metadata, and events subsystems.
type Engine struct {
	codec    *codec.Codec
	registry *codec.Registry
	factory  queue.BackendFactory
	debounce *debounce.Controller // nil disables debounce entirely
	metadata *metadata.Registry
	events   *events.Registrar
	clock    clockwork.Clock

	mu            sync.RWMutex
	registrations map[string]FuncOptions

	recentErrorIDs *lru.Cache[string, struct{}]
}

// New constructs an Engine. factory is the only required argument;
// metadataRegistry, eventsRegistrar, and debounceController may each be
// nil to disable that subsystem.
func New(factory queue.BackendFactory, debounceController *debounce.Controller, metadataRegistry *metadata.Registry, eventsRegistrar *events.Registrar) *Engine {
	registry := codec.NewRegistry()
	if metadataRegistry == nil {
		metadataRegistry = metadata.NewRegistry()
	}
	if eventsRegistrar == nil {
		eventsRegistrar = events.NewRegistrar()
	}
	recent, _ := lru.New[string, struct{}](1024)
	return &Engine{
		codec:          codec.New(registry),
		registry:       registry,
		factory:        factory,
		debounce:       debounceController,
		metadata:       metadataRegistry,
		events:         eventsRegistrar,
		clock:          clockwork.NewRealClock(),
		registrations:  make(map[string]FuncOptions),
		recentErrorIDs: recent,
	}
}

// WithClock swaps the engine's clock, primarily so tests can drive time
// deterministically with a clockwork.FakeClock.
func (e *Engine) WithClock(clock clockwork.Clock) *Engine {
	e.clock = clock
	return e
}

// Register associates name with fn under opts. It panics if name is
// already registered or if opts.Group is empty, since both are
// programmer errors caught at startup rather than at call time.
func (e *Engine) Register(name string, fn codec.Callable, opts FuncOptions) {
	if opts.Group == "" {
		panic(fmt.Sprintf("deferrable: %q registered without a Group", name))
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	e.registry.RegisterFunc(name, fn)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.registrations[name]; exists {
		panic(fmt.Sprintf("deferrable: %q already registered", name))
	}
	e.registrations[name] = opts
}

func (e *Engine) optionsFor(name string) (FuncOptions, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	opts, ok := e.registrations[name]
	if !ok {
		return FuncOptions{}, fmt.Errorf("deferrable: %q is not registered", name)
	}
	return opts, nil
}

// Later enqueues an invocation of the callable registered as method.
func (e *Engine) Later(ctx context.Context, method string, args []any, kwargs map[string]any, callOpts ...CallOption) error {
	opts, err := e.optionsFor(method)
	if err != nil {
		return err
	}
	var co CallOptions
	for _, apply := range callOpts {
		apply(&co)
	}

	it, err := e.codec.BuildItem(method, "", args, kwargs)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	it.Group = opts.Group
	it.MaxAttempts = opts.MaxAttempts
	it.ErrorClasses = strings.Join(opts.RetriableErrorTypes, ",")
	it.UseExponentialBackoff = opts.UseExponentialBackoff
	it.FirstPushTime = float64(now.Unix())
	it.LastPushTime = it.FirstPushTime
	it.OriginalDelaySeconds = co.DelaySeconds
	it.OriginalDebounceSeconds = opts.DebounceSeconds
	it.OriginalDebounceAlwaysDelay = opts.DebounceAlwaysDelay
	if opts.TTLSeconds > 0 {
		ttl.Stamp(&it, opts.TTLSeconds, float64(now.Unix()))
	}
	e.metadata.Apply(&it)

	return e.push(ctx, it, now)
}

// push applies the debounce decision (if configured) and hands the item
// to the backend queue for its group.
func (e *Engine) push(ctx context.Context, it item.Item, now time.Time) error {
	delay := it.OriginalDelaySeconds

	if e.debounce != nil && it.OriginalDebounceSeconds > 0 {
		strategy, secondsToDelay, err := e.debounce.GetStrategy(ctx, it, now)
		if err != nil {
			e.events.EmitDebounceError(it.Group, it, err)
			// Fall through to an immediate push: a debounce store
			// outage must never block the underlying call from
			// running.
			delay = 0
		} else if strategy == debounce.Skip {
			e.events.EmitDebounceHit(it.Group, it, strategy.String())
			return nil
		} else {
			// PushNow and PushDelayed both count as a miss; the window
			// decision is entirely carried by secondsToDelay (0 for
			// PushNow).
			delay = secondsToDelay
			e.events.EmitDebounceMiss(it.Group, it)
		}
	}

	backend, err := e.factory.CreateBackendForGroup(it.Group)
	if err != nil {
		return fmt.Errorf("deferrable: resolve backend for group %q: %w", it.Group, err)
	}
	if err := backend.Queue.Push(ctx, it, delay); err != nil {
		return fmt.Errorf("deferrable: push to group %q: %w", it.Group, err)
	}
	e.events.EmitPush(it.Group, it)
	return nil
}

// RunOnce pops and executes a single item from group's queue. It
// returns ok=false when the queue had nothing ready within wait.
func (e *Engine) RunOnce(ctx context.Context, group string, wait time.Duration) (ok bool, err error) {
	backend, err := e.factory.CreateBackendForGroup(group)
	if err != nil {
		return false, fmt.Errorf("deferrable: resolve backend for group %q: %w", group, err)
	}

	env, found, err := backend.Queue.Pop(ctx, wait)
	if err != nil {
		return false, fmt.Errorf("deferrable: pop from group %q: %w", group, err)
	}
	if !found {
		e.events.EmitEmpty(group)
		return false, nil
	}
	e.events.EmitPop(group, env.Item)
	e.metadata.Consume(env.Item)

	now := e.clock.Now()
	if env.Item.IsExpired(float64(now.Unix())) {
		e.events.EmitExpire(group, env.Item)
		if cerr := backend.Queue.Complete(ctx, env); cerr != nil {
			return true, fmt.Errorf("deferrable: complete expired item: %w", cerr)
		}
		e.events.EmitComplete(group, env.Item)
		return true, nil
	}

	invokeErr := e.invoke(ctx, env.Item)
	if invokeErr == nil {
		if cerr := backend.Queue.Complete(ctx, env); cerr != nil {
			return true, fmt.Errorf("deferrable: complete item: %w", cerr)
		}
		e.events.EmitComplete(group, env.Item)
		return true, nil
	}

	return true, e.handleFailure(ctx, backend, env, invokeErr, now)
}

// invoke decodes and runs it's callable, converting a panic into an
// error so that one runaway invocation cannot take down the worker loop
// running RunOnce in a tight loop.
func (e *Engine) invoke(ctx context.Context, it item.Item) (err error) {
	var pc panics.Catcher
	pc.Try(func() {
		err = e.codec.Invoke(ctx, it)
	})
	if recovered := pc.Recovered(); recovered != nil {
		return fmt.Errorf("deferrable: callable panicked: %v", recovered.AsError())
	}
	return err
}

// handleFailure routes a failed invocation to a retry (push back with
// an incremented attempt count) or to the error queue, depending on
// whether the error's type is retriable and whether attempts remain.
func (e *Engine) handleFailure(ctx context.Context, backend queue.Backend, env queue.Envelope, cause error, now time.Time) error {
	it := env.Item.Clone()
	it.Attempts++

	if isRetriable(cause, it.ErrorClasses) && it.Attempts < it.MaxAttempts {
		backoff.Apply(&it, float64(now.Unix()))
		delay := it.Delay
		if err := backend.Queue.Push(ctx, it, delay); err != nil {
			return fmt.Errorf("deferrable: requeue retry: %w", err)
		}
		if err := backend.Queue.Complete(ctx, env); err != nil {
			return fmt.Errorf("deferrable: complete original after retry push: %w", err)
		}
		e.events.EmitRetry(it.Group, it, cause)
		return nil
	}

	it.Error = &item.Error{
		ErrorType: fmt.Sprintf("%T", cause),
		ErrorText: cause.Error(),
		Hostname:  hostname(),
		Timestamp: float64(now.Unix()),
		ID:        ulid.Make().String(),
	}
	if err := backend.ErrorQueue.Push(ctx, it, 0); err != nil {
		return fmt.Errorf("deferrable: push to error queue: %w", err)
	}
	if err := backend.Queue.Complete(ctx, env); err != nil {
		return fmt.Errorf("deferrable: complete original after error push: %w", err)
	}
	e.events.EmitError(it.Group, it, cause)
	return nil
}

// isRetriable reports whether cause's concrete type appears in classes,
// a comma-separated list of type names as produced by fmt.Sprintf("%T",
// err). An empty list means no error is retriable.
func isRetriable(cause error, classes string) bool {
	if classes == "" {
		return false
	}
	typeName := reflect.TypeOf(cause).String()
	for _, want := range strings.Split(classes, ",") {
		if want == typeName {
			return true
		}
	}
	return false
}

// Stats returns the current depth of group's main queue, with ErrorSize
// set to the number of entries in its error queue, for use by the admin
// HTTP surface and CLI stats command.
func (e *Engine) Stats(ctx context.Context, group string) (queue.Stats, error) {
	backend, err := e.factory.CreateBackendForGroup(group)
	if err != nil {
		return queue.Stats{}, fmt.Errorf("deferrable: resolve backend for group %q: %w", group, err)
	}
	stats, err := backend.Queue.Stat(ctx)
	if err != nil {
		return queue.Stats{}, err
	}
	errStats, err := backend.ErrorQueue.Stat(ctx)
	if err != nil {
		return queue.Stats{}, err
	}
	stats.ErrorSize = errStats.ErrorSize + errStats.Ready + errStats.InFlight + errStats.Delayed
	return stats, nil
}

// PeekError returns the oldest unacknowledged entry in group's error
// queue without removing it, mirroring the "pop without delete"
// semantics redisqueue.ErrorQueue exposes directly. seen reports
// whether this is the first time this item's error id has been peeked
// by this process, so a caller logging every peek doesn't spam a log
// line once per poll interval for the same unresolved failure.
func (e *Engine) PeekError(ctx context.Context, group string) (env queue.Envelope, found bool, seen bool, err error) {
	backend, err := e.factory.CreateBackendForGroup(group)
	if err != nil {
		return queue.Envelope{}, false, false, fmt.Errorf("deferrable: resolve backend for group %q: %w", group, err)
	}
	env, found, err = backend.ErrorQueue.Pop(ctx, 0)
	if err != nil || !found {
		return env, found, false, err
	}
	id := env.Handle
	if env.Item.Error != nil && env.Item.Error.ID != "" {
		id = env.Item.Error.ID
	}
	if _, alreadySeen := e.recentErrorIDs.Get(id); alreadySeen {
		return env, true, false, nil
	}
	e.recentErrorIDs.Add(id, struct{}{})
	return env, true, true, nil
}

// CompleteError acknowledges an error queue entry previously returned
// by PeekError, removing it for good.
func (e *Engine) CompleteError(ctx context.Context, group string, env queue.Envelope) error {
	backend, err := e.factory.CreateBackendForGroup(group)
	if err != nil {
		return fmt.Errorf("deferrable: resolve backend for group %q: %w", group, err)
	}
	return backend.ErrorQueue.Complete(ctx, env)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
