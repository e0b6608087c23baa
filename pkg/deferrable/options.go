package deferrable

// FuncOptions configures a single registered callable: its queue group,
// retry policy, TTL, and debounce window. Zero values mean "no limit" /
// "no debounce" / engine defaults, matching an undecorated later() call
// in the original implementation.
type FuncOptions struct {
	// Group names the queue backend this callable's items are pushed
	// to and popped from. Required.
	Group string

	// MaxAttempts caps how many times a failing item is retried before
	// it is routed to the error queue. Zero means the engine default.
	MaxAttempts int

	// RetriableErrorTypes lists the Go type names (as produced by
	// fmt.Sprintf("%T", err)) that are considered retriable. An error
	// whose type is not in this list is routed to the error queue on
	// its first failure, regardless of MaxAttempts. Empty means no
	// error is retriable: every failure goes to the error queue.
	RetriableErrorTypes []string

	// TTLSeconds drops an item at pop time if it has sat in the queue
	// longer than this, without running its callable. Zero disables
	// the TTL check.
	TTLSeconds int

	// UseExponentialBackoff shifts each retry's delay out using
	// pkg/backoff instead of retrying immediately.
	UseExponentialBackoff bool

	// DebounceSeconds, when positive, opens a debounce window per
	// distinct call fingerprint: the first call is pushed immediately, a
	// call inside the window is pushed delayed to the window's end, and
	// further calls are skipped while that delayed push is pending.
	DebounceSeconds int

	// DebounceAlwaysDelay delays even the first call by the full window
	// instead of pushing it immediately; calls made while that delayed
	// push is pending are skipped.
	DebounceAlwaysDelay bool
}

// CallOptions are per-call overrides accepted by Engine.Later.
type CallOptions struct {
	// DelaySeconds schedules this specific call no earlier than this
	// many seconds from now. When the callable is debounced and the
	// debounce controller answers, its delay replaces this one.
	DelaySeconds int
}

// CallOption mutates CallOptions.
type CallOption func(*CallOptions)

// WithDelay schedules a single Later call to run no earlier than
// seconds from now.
func WithDelay(seconds int) CallOption {
	return func(o *CallOptions) { o.DelaySeconds = seconds }
}
