package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	ctx := WithContext(context.Background(), l)

	got := FromContext(ctx)
	got.Info().Msg("hello")
	if buf.Len() == 0 {
		t.Fatalf("expected the retrieved logger to write to the same buffer")
	}
}

func TestFromContextWithoutAttachedLoggerDoesNotPanic(t *testing.T) {
	FromContext(context.Background()).Info().Msg("fine")
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	l := New("not-a-level", false)
	if l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected fallback to info level, got %v", l.GetLevel())
	}
}
