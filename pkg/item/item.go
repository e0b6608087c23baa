// Package item defines the transport-neutral envelope carried by every
// queue backend: the target callable identity, its arguments, attempt
// counter, TTL, delay, and namespaced metadata.
package item

import (
	"fmt"

	"github.com/jinzhu/copier"
)

// MaxDelaySeconds is the hard ceiling on both delay and debounce windows,
// set for backend performance reasons (SQS enforces the same limit on
// message delay).
const MaxDelaySeconds = 900

// Error carries the captured failure information attached to an item when
// it is routed to an error queue.
type Error struct {
	ErrorType string  `json:"error_type"`
	ErrorText string  `json:"error_text"`
	Traceback string  `json:"traceback"`
	Hostname  string  `json:"hostname"`
	Timestamp float64 `json:"ts"`
	ID        string  `json:"id"`
}

// Item is the envelope defined in the data model: a struct whose JSON
// tags are the envelope's keys, holding the encoded call plus the typed
// fields that every backend needs to interpret without decoding the
// payload.
type Item struct {
	// Method is the encoded identity of the target callable.
	Method string `json:"method"`
	// Object, if present, is the encoded identity of a receiver that Method
	// is resolved against (bound-method style dispatch).
	Object string `json:"object,omitempty"`
	// Args is the encoded positional argument tuple.
	Args string `json:"args"`
	// Kwargs is the encoded, sorted keyword-argument mapping.
	Kwargs string `json:"kwargs"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	// ErrorClasses is the encoded set of error-kind tags considered
	// retriable for this item. Empty means "no error is retriable".
	ErrorClasses string `json:"error_classes"`

	Group string `json:"group"`

	FirstPushTime float64 `json:"first_push_time"`
	LastPushTime  float64 `json:"last_push_time"`

	OriginalDelaySeconds         int  `json:"original_delay_seconds"`
	OriginalDebounceSeconds      int  `json:"original_debounce_seconds"`
	OriginalDebounceAlwaysDelay bool `json:"original_debounce_always_delay"`

	// Delay is the number of seconds, from push time, before the item
	// becomes available to Pop. Zero or absent means immediate.
	Delay int `json:"delay,omitempty"`

	// TTLSeconds and ItemQueuedTimestamp are stamped together at first
	// push when a TTL is configured.
	TTLSeconds          int     `json:"ttl_seconds,omitempty"`
	ItemQueuedTimestamp float64 `json:"item_queued_timestamp,omitempty"`

	// Metadata maps a namespace to an encoded side-channel value, applied
	// by registered metadata producer/consumers.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Error is present only on items living in an error queue.
	Error *Error `json:"error,omitempty"`

	UseExponentialBackoff bool `json:"use_exponential_backoff,omitempty"`

	// DebounceSkip is a transient flag that is never persisted to a queue.
	// Nothing in this module sets or reads it; a debounce skip is
	// reported through the events registrar's debounce-hit event.
	DebounceSkip bool `json:"-"`
}

// Fingerprint returns the deterministic string identifying "the same call"
// for debounce purposes, computed over the encoded forms of method, args,
// and kwargs so that equivalent calls from different producer processes
// fingerprint identically.
func (it Item) Fingerprint() string {
	return fmt.Sprintf("%s.%s.%s", it.Method, it.Args, it.Kwargs)
}

// Clone returns a deep copy of it, safe to mutate independently of the
// original (the original being, e.g., an item still referenced by a
// caller for logging while the engine mutates a retry copy). The copy is
// performed field-by-field via copier so that a future field addition to
// Item can't silently reintroduce aliasing through a forgotten manual
// assignment.
func (it Item) Clone() Item {
	var out Item
	if err := copier.CopyWithOption(&out, &it, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on unsupported kinds; Item has none, so this
		// indicates a programming error rather than a runtime condition.
		panic(fmt.Sprintf("item: clone failed: %v", err))
	}
	return out
}

// IsExpired reports whether the item's TTL, if any, has elapsed as of now
// (seconds since epoch).
func (it Item) IsExpired(nowSeconds float64) bool {
	if it.TTLSeconds <= 0 {
		return false
	}
	elapsed := nowSeconds - it.ItemQueuedTimestamp
	return elapsed > float64(it.TTLSeconds)
}
