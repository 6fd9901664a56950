// Package observability provides structured logging helpers for Jimu.
//
// It wraps log/slog with trace and actor propagation so that every log line
// emitted while a plan runs carries the trace context, and it redacts
// registered credentials from log messages.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bdobrica/Jimu/common/redact"
	"github.com/bdobrica/Jimu/common/trace"
)

var secrets redact.Set

// Setup configures the global slog logger according to the provided level and
// format strings (e.g. level="info", format="json").
func Setup(level, format string) {
	SetupWriter(os.Stdout, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(secrets.String(a.Value.String()))
			}
			return a
		},
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps "debug", "warn" and "error" to slog levels; anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RegisterSecrets adds values that must never appear in log output.
func RegisterSecrets(values ...string) {
	secrets.Add(values...)
}

// WithTrace returns a child logger carrying trace_id and actor from ctx.
func WithTrace(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if traceID := trace.FromContext(ctx); traceID != "" {
		l = l.With("trace_id", traceID)
	}
	return l.With("actor", trace.ActorFromContext(ctx))
}
