// Package ratelimit decides whether an item may be pushed now, per a
// CEL expression evaluated against the item, so that a deployment can
// rate-limit "one key per tenant" or "one key per group" without the
// engine needing to know what a tenant or group even is. The engine
// does not call it; a caller checks Allow before calling Later.
package ratelimit

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/throttled/throttled/v2"
	"github.com/throttled/throttled/v2/store/memstore"

	"github.com/deferrable-run/deferrable/pkg/item"
)

// Config describes a single rate limit: ratePerSecond sustained calls
// per second, with burst allowed above that rate before throttling
// kicks in. keyExpr is a CEL expression evaluated against the pushed
// item; its result (coerced to a string) is the bucket key two calls
// compete for.
type Config struct {
	RatePerSecond int
	Burst         int
	KeyExpr       string
}

// Limiter enforces a Config using a GCRA (leaky-bucket) rate limiter.
type Limiter struct {
	rl      *throttled.GCRARateLimiter
	program cel.Program
}

// New compiles cfg.KeyExpr and constructs the underlying rate limiter.
// cacheSize bounds the number of distinct keys tracked concurrently.
func New(cfg Config, cacheSize int) (*Limiter, error) {
	env, err := cel.NewEnv(
		cel.Variable("group", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: build cel env: %w", err)
	}
	ast, iss := env.Compile(cfg.KeyExpr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("ratelimit: compile key expression %q: %w", cfg.KeyExpr, iss.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: build cel program: %w", err)
	}

	store, err := memstore.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: build memstore: %w", err)
	}
	rl, err := throttled.NewGCRARateLimiter(store, throttled.RateQuota{
		MaxRate:  throttled.PerSec(cfg.RatePerSecond),
		MaxBurst: cfg.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: build gcra limiter: %w", err)
	}

	return &Limiter{rl: rl, program: program}, nil
}

// key evaluates the limiter's CEL expression against it.
func (l *Limiter) key(it item.Item) (string, error) {
	out, _, err := l.program.Eval(map[string]any{
		"group":    it.Group,
		"method":   it.Method,
		"metadata": it.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("ratelimit: evaluate key expression: %w", err)
	}
	return fmt.Sprintf("%v", out.Value()), nil
}

// Allow reports whether it may be pushed now. A false result means the
// caller should either drop the call or push it delayed, per its own
// policy; Allow itself never mutates or delays anything.
func (l *Limiter) Allow(it item.Item) (bool, error) {
	key, err := l.key(it)
	if err != nil {
		return false, err
	}
	limited, _, err := l.rl.RateLimit(key, 1)
	if err != nil {
		return false, fmt.Errorf("ratelimit: rate limit check: %w", err)
	}
	return !limited, nil
}
