package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"
	"github.com/rs/zerolog"

	"github.com/deferrable-run/deferrable/pkg/config"
	"github.com/deferrable-run/deferrable/pkg/debounce"
	"github.com/deferrable-run/deferrable/pkg/deferrable"
	"github.com/deferrable-run/deferrable/pkg/logger"
	"github.com/deferrable-run/deferrable/pkg/queue"
)

// buildEngine assembles an Engine from cfg: the queue backend named by
// cfg.QueueBackend, a debounce controller sharing the same backend's
// storage where that makes sense, and a handful of demo callables so
// `deferrable worker` has something to run against out of the box.
func buildEngine(cfg config.Config, log zerolog.Logger) (*deferrable.Engine, error) {
	var factory queue.BackendFactory
	var debounceController *debounce.Controller

	switch cfg.QueueBackend {
	case "redis":
		client, err := rueidis.NewClient(rueidis.ClientOption{InitAddress: []string{cfg.RedisAddr}})
		if err != nil {
			return nil, fmt.Errorf("connect redis at %s: %w", cfg.RedisAddr, err)
		}
		factory = queue.NewRedisBackendFactory(client, cfg.RedisNamespace, cfg.VisibilityTimeout)
		debounceController = debounce.NewController(debounce.NewRedisStore(client))
	case "memory", "":
		factory = queue.NewMemoryBackendFactory()
		debounceController = debounce.NewController(debounce.NewMemoryStore(4096))
	default:
		return nil, fmt.Errorf("unsupported queue backend %q (want memory or redis; sqs requires wiring a QueueURLResolver in code)", cfg.QueueBackend)
	}

	engine := deferrable.New(factory, debounceController, nil, nil)
	registerDemoCallables(engine, log)
	return engine, nil
}

// registerDemoCallables registers a couple of illustrative functions so
// a freshly-cloned checkout can push and run something immediately.
// Real deployments register their own callables by importing
// pkg/deferrable directly rather than through this command.
func registerDemoCallables(engine *deferrable.Engine, log zerolog.Logger) {
	engine.Register("log_message", func(ctx context.Context, args []any, kwargs map[string]any) error {
		log.Info().Interface("args", args).Interface("kwargs", kwargs).Msg("log_message")
		return nil
	}, deferrable.FuncOptions{Group: "default", MaxAttempts: 3})

	engine.Register("sleep_and_log", func(ctx context.Context, args []any, kwargs map[string]any) error {
		if len(args) > 0 {
			if seconds, ok := args[0].(float64); ok {
				select {
				case <-time.After(time.Duration(seconds) * time.Second):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		log.Info().Msg("sleep_and_log: done")
		return nil
	}, deferrable.FuncOptions{Group: "default", MaxAttempts: 3, UseExponentialBackoff: true})
}

func newLogger(cfg config.Config) zerolog.Logger {
	return logger.New(cfg.LogLevel, cfg.LogPretty)
}
