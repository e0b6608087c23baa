package redisqueue

import "fmt"

// keyset is the full set of redis keys a single group's reliable queue
// is spread across.
type keyset struct {
	ready      string
	delay      string
	inflight   string
	inflightTS string
	errorOrder string
	errorHash  string
}

func keysFor(namespace, group string) keyset {
	prefix := fmt.Sprintf("deferrable:%s:%s", namespace, group)
	return keyset{
		ready:      prefix + ":ready",
		delay:      prefix + ":delay",
		inflight:   prefix + ":inflight",
		inflightTS: prefix + ":inflight:ts",
		errorOrder: prefix + ":errors:order",
		errorHash:  prefix + ":errors:hash",
	}
}
