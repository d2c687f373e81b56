package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// clearEnv unsets keys for the duration of the test. t.Setenv records the
// original value so it is restored on cleanup.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	path, err := Load("/nonexistent/path/config.yaml", slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
pipeline:
  chunk_size: 800
  top_k: 5
  call_timeout: 90s
  skip_unchanged: true
model:
  provider: azure
  max_tokens: 2048
  temperature: 0.3
  azure:
    endpoint: https://my-resource.openai.azure.com
    deployment: gpt-4o
    api_version: "2025-04-01-preview"
embedding:
  provider: ollama
  model: nomic-embed-text
  rps: 2.5
storage:
  ipfs_api_url: http://ipfs.internal:5001/api/v0
  redis_url: redis://cache.internal:6379/0
registry:
  backend: chain
  provider_uri: http://ganache.internal:8545
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  chain_id: 1337
  account: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
qdrant:
  host: qdrant.internal
  port: 6334
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
		t.Fatal(err)
	}

	checks := map[string]string{
		"MANUALRAG_CHUNK_SIZE":     "800",
		"MANUALRAG_TOP_K":          "5",
		"MANUALRAG_CALL_TIMEOUT":   "90s",
		"MANUALRAG_SKIP_UNCHANGED": "true",
		"MODEL_PROVIDER":           "azure",
		"MODEL_MAX_TOKENS":         "2048",
		"MODEL_TEMPERATURE":        "0.3",
		"AZURE_OPENAI_ENDPOINT":    "https://my-resource.openai.azure.com",
		"AZURE_OPENAI_DEPLOYMENT":  "gpt-4o",
		"AZURE_OPENAI_API_VERSION": "2025-04-01-preview",
		"EMBEDDING_PROVIDER":       "ollama",
		"EMBEDDING_MODEL":          "nomic-embed-text",
		"EMBEDDING_RPS":            "2.5",
		"IPFS_API_URL":             "http://ipfs.internal:5001/api/v0",
		"REDIS_URL":                "redis://cache.internal:6379/0",
		"REGISTRY_BACKEND":         "chain",
		"WEB3_PROVIDER_URI":        "http://ganache.internal:8545",
		"CONTRACT_ADDRESS":         "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		"CHAIN_ID":                 "1337",
		"ACCOUNT_ADDRESS":          "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		"QDRANT_HOST":              "qdrant.internal",
		"QDRANT_PORT":              "6334",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "text",
	}
	keys := make([]string, 0, len(checks))
	for k := range checks {
		keys = append(keys, k)
	}
	clearEnv(t, keys...)

	loaded, err := Load(cfgPath, slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
registry:
  backend: sqlite
`)
	if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MODEL_PROVIDER", "azure")
	// An explicitly empty variable also wins over the file.
	t.Setenv("REGISTRY_BACKEND", "")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "azure" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "azure", got)
	}
	if got := os.Getenv("REGISTRY_BACKEND"); got != "" {
		t.Errorf("REGISTRY_BACKEND: expected empty env to win, got %q", got)
	}
}

func TestLoad_ConfigEnvVar(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "manualrag.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  port: 9090\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MANUALRAG_CONFIG", cfgPath)
	clearEnv(t, "MANUALRAG_PORT")

	loaded, err := Load("", slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}
	if got := os.Getenv("MANUALRAG_PORT"); got != "9090" {
		t.Errorf("MANUALRAG_PORT: got %q, want 9090", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestNumberFormatting(t *testing.T) {
	t.Parallel()

	f32 := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{1.0, "1"},
	}
	for _, tt := range f32 {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}

	f64 := []struct {
		in   float64
		want string
	}{
		{0, ""},
		{2.5, "2.5"},
		{10, "10"},
	}
	for _, tt := range f64 {
		if got := float64Str(tt.in); got != tt.want {
			t.Errorf("float64Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if intStr(0) != "" || intStr(42) != "42" {
		t.Errorf("intStr: got %q and %q", intStr(0), intStr(42))
	}
}
