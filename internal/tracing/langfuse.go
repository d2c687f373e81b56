// Package tracing wires Langfuse tracing into every eino chat model call the
// answer stage makes.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// Config holds Langfuse credentials.
type Config struct {
	// Host is the Langfuse base URL (default: http://localhost:3000).
	Host string
	// PublicKey and SecretKey authenticate the project.
	PublicKey string
	SecretKey string
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY. Returns nil when either key is missing.
func ConfigFromEnv() *Config {
	cfg := &Config{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
	if cfg.PublicKey == "" || cfg.SecretKey == "" {
		return nil
	}
	if cfg.Host == "" {
		cfg.Host = "http://localhost:3000"
	}
	return cfg
}

// Setup registers a global Langfuse callback handler when cfg is non-nil and
// returns a flush function that must be called before process exit so
// buffered traces are sent. With a nil cfg it returns a no-op flush and false.
func Setup(cfg *Config) (flush func(), enabled bool) {
	if cfg == nil {
		return func() {}, false
	}
	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	})
	callbacks.AppendGlobalHandlers(handler)
	return flusher, true
}
