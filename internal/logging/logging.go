// Package logging configures the process-wide slog logger and carries it
// through request and command contexts.
//
//	LOG_LEVEL  = debug | info | warn | error (default info)
//	LOG_FORMAT = json | text                 (default json)
//
// Output goes to stderr because the CLI prints results on stdout.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey struct{}

// secretAttrs never reach the log output, whatever their value.
var secretAttrs = []string{"private_key", "api_key", "authorization", "password"}

// New returns a stderr logger configured from LOG_LEVEL and LOG_FORMAT.
func New() *slog.Logger {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter is New writing to w.
func NewWithWriter(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(os.Getenv("LOG_LEVEL")),
		ReplaceAttr: redact,
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored by WithLogger, falling back to
// slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, _ := ctx.Value(ctxKey{}).(*slog.Logger); l != nil {
		return l
	}
	return slog.Default()
}

func redact(_ []string, a slog.Attr) slog.Attr {
	for _, k := range secretAttrs {
		if strings.EqualFold(a.Key, k) {
			return slog.String(a.Key, "[redacted]")
		}
	}
	return a
}

// parseLevel accepts slog's level names (case-insensitive, with offsets
// such as "debug+2") plus "warning". Anything else is info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
