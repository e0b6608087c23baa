// Package ttl stamps and checks item expiry. It is primarily useful for
// time-sensitive workloads where a stale item should be dropped at pop
// time rather than executed late.
package ttl

import "github.com/deferrable-run/deferrable/pkg/item"

// Stamp records ttlSeconds and the current queued time on it, so that a
// later call to IsExpired (or item.Item.IsExpired) can determine whether
// the item has aged out.
func Stamp(it *item.Item, ttlSeconds int, nowSeconds float64) {
	it.TTLSeconds = ttlSeconds
	it.ItemQueuedTimestamp = nowSeconds
}

// IsExpired reports whether it has exceeded its TTL as of nowSeconds. An
// item with no TTL configured never expires.
func IsExpired(it item.Item, nowSeconds float64) bool {
	return it.IsExpired(nowSeconds)
}
