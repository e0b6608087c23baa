// Package events dispatches engine lifecycle events to observers that
// opt into them. An observer implements only the one-method interfaces
// it cares about; the Registrar's Emit methods type-assert each registered observer
// against every event interface rather than requiring a single
// do-everything interface with empty default methods.
package events

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/deferrable-run/deferrable/pkg/item"
)

// PushObserver is notified when an item is pushed onto a queue.
type PushObserver interface {
	OnPush(group string, it item.Item)
}

// PopObserver is notified when an item is popped off a queue.
type PopObserver interface {
	OnPop(group string, it item.Item)
}

// EmptyObserver is notified when a Pop call finds nothing ready.
type EmptyObserver interface {
	OnEmpty(group string)
}

// CompleteObserver is notified when an item was acknowledged off its
// queue, either after its callable ran without error or after it was
// dropped at pop time because its TTL had elapsed.
type CompleteObserver interface {
	OnComplete(group string, it item.Item)
}

// ExpireObserver is notified when an item was dropped at pop time
// because its TTL had elapsed.
type ExpireObserver interface {
	OnExpire(group string, it item.Item)
}

// RetryObserver is notified when an item's callable failed with a
// retriable error and the item was pushed back onto the queue.
type RetryObserver interface {
	OnRetry(group string, it item.Item, cause error)
}

// ErrorObserver is notified when an item failed with a non-retriable
// error, or exhausted its retries, and was routed to the error queue.
type ErrorObserver interface {
	OnError(group string, it item.Item, cause error)
}

// DebounceHitObserver is notified when a push was skipped because the
// debounce.F sentinel was already present for its fingerprint (an
// equivalent delayed push is already scheduled within the window).
type DebounceHitObserver interface {
	OnDebounceHit(group string, it item.Item, strategy string)
}

// DebounceMissObserver is notified whenever a push was not skipped,
// whether it was pushed immediately (no window open) or delayed to the
// end of the current window (an always_delay window, or a
// not-yet-expired window with no delayed push scheduled yet).
type DebounceMissObserver interface {
	OnDebounceMiss(group string, it item.Item)
}

// DebounceErrorObserver is notified when the debounce store itself
// failed, causing the engine to fall back to pushing the item
// unconditionally.
type DebounceErrorObserver interface {
	OnDebounceError(group string, it item.Item, cause error)
}

// Registrar holds the set of observers an engine dispatches to.
// Observer panics never affect engine semantics: each Emit method
// recovers them and returns them aggregated into one error, which the
// engine ignores, so the push/pop/retry/error path that triggered the
// event carries on.
type Registrar struct {
	observers []any
}

// NewRegistrar returns an empty Registrar.
func NewRegistrar() *Registrar {
	return &Registrar{}
}

// Register adds an observer. A single value implementing several of the
// observer interfaces only needs to be registered once.
func (r *Registrar) Register(observer any) {
	r.observers = append(r.observers, observer)
}

// emit runs fn against every registered observer that satisfies T,
// isolating each call: a panicking or otherwise misbehaving observer
// cannot prevent the remaining observers from running, and none of them
// can affect the caller's own control flow.
func emit[T any](r *Registrar, fn func(T)) error {
	var errs error
	for _, observer := range r.observers {
		typed, ok := observer.(T)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					errs = multierror.Append(errs, fmt.Errorf("events: observer panicked: %v", rec))
				}
			}()
			fn(typed)
		}()
	}
	return errs
}

func (r *Registrar) EmitPush(group string, it item.Item) error {
	return emit[PushObserver](r, func(o PushObserver) { o.OnPush(group, it) })
}

func (r *Registrar) EmitPop(group string, it item.Item) error {
	return emit[PopObserver](r, func(o PopObserver) { o.OnPop(group, it) })
}

func (r *Registrar) EmitEmpty(group string) error {
	return emit[EmptyObserver](r, func(o EmptyObserver) { o.OnEmpty(group) })
}

func (r *Registrar) EmitComplete(group string, it item.Item) error {
	return emit[CompleteObserver](r, func(o CompleteObserver) { o.OnComplete(group, it) })
}

func (r *Registrar) EmitExpire(group string, it item.Item) error {
	return emit[ExpireObserver](r, func(o ExpireObserver) { o.OnExpire(group, it) })
}

func (r *Registrar) EmitRetry(group string, it item.Item, cause error) error {
	return emit[RetryObserver](r, func(o RetryObserver) { o.OnRetry(group, it, cause) })
}

func (r *Registrar) EmitError(group string, it item.Item, cause error) error {
	return emit[ErrorObserver](r, func(o ErrorObserver) { o.OnError(group, it, cause) })
}

func (r *Registrar) EmitDebounceHit(group string, it item.Item, strategy string) error {
	return emit[DebounceHitObserver](r, func(o DebounceHitObserver) { o.OnDebounceHit(group, it, strategy) })
}

func (r *Registrar) EmitDebounceMiss(group string, it item.Item) error {
	return emit[DebounceMissObserver](r, func(o DebounceMissObserver) { o.OnDebounceMiss(group, it) })
}

func (r *Registrar) EmitDebounceError(group string, it item.Item, cause error) error {
	return emit[DebounceErrorObserver](r, func(o DebounceErrorObserver) { o.OnDebounceError(group, it, cause) })
}
