// Package backoff computes the exponential retry delay applied when an
// item configured with use_exponential_backoff is about to be re-pushed
// after a retriable failure.
package backoff

import "github.com/deferrable-run/deferrable/pkg/item"

// Constant and Base are the two knobs of the delay formula:
// delay = Constant + Base^attempts, clamped to item.MaxDelaySeconds.
const (
	Constant = 2
	Base     = 2
)

// Compute returns the backoff delay, in seconds, for the given 0-indexed
// attempt number.
func Compute(attempts int) int {
	delay := Constant
	pow := 1
	for i := 0; i < attempts; i++ {
		pow *= Base
	}
	delay += pow
	if delay > item.MaxDelaySeconds {
		delay = item.MaxDelaySeconds
	}
	return delay
}

// Apply mutates it in place, setting Delay to the computed backoff and
// shifting LastPushTime forward by the same amount, so that response-time
// metrics derived from LastPushTime are not skewed by the backoff wait.
// It is a no-op when UseExponentialBackoff is false.
func Apply(it *item.Item, nowSeconds float64) {
	if !it.UseExponentialBackoff {
		return
	}
	delay := Compute(it.Attempts)
	it.LastPushTime = nowSeconds + float64(delay)
	it.Delay = delay
}
