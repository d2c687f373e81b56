package audit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	for _, key := range []string{"OPENAI_API_KEY", "PRIVATE_KEY", "MANUALRAG_API_KEY"} {
		if got := SanitiseKey(key, "sk-abc123"); got != "set" {
			t.Errorf("%s: expected 'set', got %q", key, got)
		}
		if got := SanitiseKey(key, ""); got != "unset" {
			t.Errorf("%s: expected 'unset', got %q", key, got)
		}
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("MODEL_PROVIDER", "azure"); got != "azure" {
		t.Errorf("expected 'azure', got %q", got)
	}
	if got := SanitiseKey("MODEL_PROVIDER", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_URL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		key, in, want string
	}{
		{"REDIS_URL", "redis://:hunter2@cache:6379/0", "redis://:xxxxx@cache:6379/0"},
		{"REGISTRY_DSN", "postgres://manualrag:hunter2@db:5432/registry?sslmode=disable", "postgres://manualrag:xxxxx@db:5432/registry?sslmode=disable"},
		{"REGISTRY_DSN", "/var/lib/manualrag/registry.db", "/var/lib/manualrag/registry.db"},
		{"WEB3_PROVIDER_URI", "http://127.0.0.1:8545", "http://127.0.0.1:8545"},
		{"REDIS_URL", "", "unset"},
	}
	for _, tc := range cases {
		if got := SanitiseKey(tc.key, tc.in); got != tc.want {
			t.Errorf("%s=%q: expected %q, got %q", tc.key, tc.in, tc.want, got)
		}
	}
}

func TestLogCommandStart_NeverLogsSecrets(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("REDIS_URL", "redis://:hunter2@cache:6379/0")
	t.Setenv("MODEL_PROVIDER", "ollama")

	var buf bytes.Buffer
	LogCommandStart(slog.New(slog.NewJSONHandler(&buf, nil)), "upload", "")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["command"] != "upload" || entry["config_file"] != "none" {
		t.Errorf("unexpected header fields: %v", entry)
	}
	if entry["PRIVATE_KEY"] != "set" {
		t.Errorf("PRIVATE_KEY: got %v", entry["PRIVATE_KEY"])
	}
	if entry["MODEL_PROVIDER"] != "ollama" {
		t.Errorf("MODEL_PROVIDER: got %v", entry["MODEL_PROVIDER"])
	}
	if bytes.Contains(buf.Bytes(), []byte("hunter2")) || bytes.Contains(buf.Bytes(), []byte("4c0883a6")) {
		t.Errorf("secret leaked into audit log: %s", buf.String())
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.manualrag/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.manualrag/config.yaml" {
			t.Errorf("expected '~/.manualrag/config.yaml', got %q", got)
		}
	}
}
