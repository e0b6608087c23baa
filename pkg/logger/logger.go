// Package logger provides the structured, context-carried logger every
// other package logs through. It follows the same
// attach-to-context-then-retrieve shape the teacher's stdlib logger
// helper uses, built on zerolog instead of a custom handler.
package logger

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// New builds a zerolog.Logger writing level, ts, and caller, configured
// for human-readable console output when pretty is true (local
// development) or raw JSON otherwise (production, where logs are
// shipped to an aggregator that parses JSON).
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Caller().Logger()
}

// WithContext returns a child context carrying l, retrievable later via
// FromContext.
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx by WithContext, or
// else whatever zerolog.Ctx returns for ctx (a disabled logger unless a
// zerolog logger was attached to ctx or zerolog.DefaultContextLogger is
// set).
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Ctx(ctx).With().Logger()
}
