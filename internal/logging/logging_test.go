package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWithWriter_FormatAndLevel(t *testing.T) {
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	log := NewWithWriter(&buf)
	log.Info("hidden")
	log.Warn("shown", slog.String("manual_id", "router-x1"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written at warn level: %s", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "manual_id=router-x1") {
		t.Errorf("expected text-format warn line, got: %s", out)
	}
}

func TestNewWithWriter_RedactsCredentials(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	NewWithWriter(&buf).Info("signing",
		slog.String("private_key", "0xdeadbeef"),
		slog.String("API_KEY", "sk-live"),
		slog.String("account", "0xf39f"),
	)

	out := buf.String()
	if strings.Contains(out, "deadbeef") || strings.Contains(out, "sk-live") {
		t.Errorf("credential leaked: %s", out)
	}
	if !strings.Contains(out, `"account":"0xf39f"`) {
		t.Errorf("non-secret attribute missing: %s", out)
	}
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	if FromContext(context.Background()) != slog.Default() {
		t.Error("empty context should yield slog.Default")
	}
	l := slog.New(slog.DiscardHandler)
	if FromContext(WithLogger(context.Background(), l)) != l {
		t.Error("stored logger not returned")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"info+2":  slog.LevelInfo + 2,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
