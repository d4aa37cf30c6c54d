// Package logger provides structured logging on zerolog.
// It sets up a JSON (or console) logger with service-level context and
// provides tick ID propagation through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey string

const tickIDKey ctxKey = "tick_id"

// Init creates and returns a structured logger for the given service.
// format "console" selects the human-readable writer, anything else is JSON.
// An unparseable level falls back to info.
func Init(service, level, format string) zerolog.Logger {
	return initTo(os.Stdout, service, level, format)
}

func initTo(w io.Writer, service, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	l := zerolog.New(out).Level(lvl).With().
		Timestamp().
		Str("service", service).
		Logger()

	// Set as default so zerolog.Ctx fallbacks use structured output too
	zerolog.DefaultContextLogger = &l

	return l
}

// Component derives a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Nop returns a disabled logger, handy for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// WithTickID stores a tick ID in the context for downstream propagation.
func WithTickID(ctx context.Context, tickID string) context.Context {
	return context.WithValue(ctx, tickIDKey, tickID)
}

// TickID extracts the tick ID from context. Returns "" if not set.
func TickID(ctx context.Context) string {
	if v, ok := ctx.Value(tickIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTickID creates a tick ID from an asset and timestamp.
// Format: "{asset}-{unixNano}".
func GenerateTickID(asset string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", asset, ts.UnixNano())
}

// WithTick returns l annotated with the tick ID from ctx, if any.
func WithTick(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	tid := TickID(ctx)
	if tid == "" {
		return l
	}
	return l.With().Str("tick_id", tid).Logger()
}
