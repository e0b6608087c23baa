// Package config loads worker and CLI configuration from flags,
// environment variables, and an optional config file, layered the way
// the teacher's cobra/viper commands do: flags override environment,
// environment overrides the file, the file overrides these defaults.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Config is the full set of knobs a deferrable worker process reads at
// startup.
type Config struct {
	LogLevel  string `mapstructure:"log-level"`
	LogPretty bool   `mapstructure:"log-pretty"`

	QueueBackend string `mapstructure:"queue-backend"` // memory | redis | sqs

	RedisAddr         string        `mapstructure:"redis-addr"`
	RedisNamespace    string        `mapstructure:"redis-namespace"`
	VisibilityTimeout time.Duration `mapstructure:"visibility-timeout"`

	WorkerConcurrency int           `mapstructure:"worker-concurrency"`
	PopWait           time.Duration `mapstructure:"pop-wait"`

	HTTPAddr  string `mapstructure:"http-addr"`
	JWTSecret string `mapstructure:"jwt-secret"`

	MetricsAddr string `mapstructure:"metrics-addr"`
}

// Default returns a Config populated with the values a bare `deferrable
// worker` invocation should run with.
func Default() Config {
	return Config{
		LogLevel:          "info",
		LogPretty:         true,
		QueueBackend:      "memory",
		RedisAddr:         "127.0.0.1:6379",
		RedisNamespace:    "default",
		VisibilityTimeout: 30 * time.Second,
		WorkerConcurrency: 4,
		PopWait:           5 * time.Second,
		HTTPAddr:          ":8080",
		MetricsAddr:       ":9090",
	}
}

// BindFlags registers every Config field as a flag on fs, so that
// `deferrable worker --worker-concurrency 16` and
// DEFERRABLE_WORKER_CONCURRENCY=16 both work.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.Bool("log-pretty", d.LogPretty, "write human-readable console logs instead of JSON")
	fs.String("queue-backend", d.QueueBackend, "queue backend: memory, redis, sqs")
	fs.String("redis-addr", d.RedisAddr, "redis address for the redis queue backend")
	fs.String("redis-namespace", d.RedisNamespace, "key namespace for the redis queue backend")
	fs.Duration("visibility-timeout", d.VisibilityTimeout, "in-flight visibility timeout for redis/sqs backends")
	fs.Int("worker-concurrency", d.WorkerConcurrency, "number of concurrent RunOnce loops")
	fs.Duration("pop-wait", d.PopWait, "how long a single Pop call blocks waiting for an item")
	fs.String("http-addr", d.HTTPAddr, "address for the admin HTTP surface")
	fs.String("jwt-secret", d.JWTSecret, "bearer JWT secret for the admin HTTP surface; empty disables auth")
	fs.String("metrics-addr", d.MetricsAddr, "unused: prometheus metrics are served at /metrics on http-addr")
}

// Load builds a Config from fs (already parsed), the DEFERRABLE_*
// environment variables, and configFile if non-empty.
func Load(fs *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("deferrable")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("config: bind flags: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	cfg := Default()
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		stringToExtendedDurationHook,
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// stringToExtendedDurationHook accepts the day/week units ("1d", "2w")
// that time.ParseDuration rejects, for config-file and env-var values
// such as a week-long TTL that would otherwise need to be spelled out
// in hours.
func stringToExtendedDurationHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	s := data.(string)
	if _, err := time.ParseDuration(s); err == nil {
		return data, nil
	}
	return str2duration.ParseDuration(s)
}
