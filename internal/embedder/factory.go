package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/54b3r/manualrag-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	defaultOllamaHost   = "http://localhost:11434"
	defaultOpenAIURL    = "https://api.openai.com/v1"
	defaultAzureVersion = "2025-04-01-preview"
)

// Backend is a rag.Embedder that can also report its own reachability.
type Backend interface {
	rag.Embedder
	// Ping checks whether the embedding service is reachable.
	Ping(ctx context.Context) error
	// Name returns a short label for readiness responses.
	Name() string
}

// Config is the explicit embedding configuration for one orchestrator.
type Config struct {
	// Provider selects the backend: ollama, openai, or azure.
	Provider string
	// Model is the embedding model (Azure: deployment) name.
	Model string
	// Endpoint is the backend base URL.
	Endpoint string
	// APIKey authenticates openai and azure requests.
	APIKey string
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
	// Dispatch controls fan-out, throttling, and dimension pinning.
	Dispatch DispatchConfig
}

// ConfigFromEnv resolves an embedding Config from environment variables:
//
//	EMBEDDING_PROVIDER       = ollama | openai | azure (default: ollama)
//	EMBEDDING_MODEL          model name (ollama: nomic-embed-text, openai/azure: text-embedding-3-small)
//	EMBEDDING_ENDPOINT       base URL; falls back to OLLAMA_HOST, OPENAI_API_BASE, AZURE_OPENAI_ENDPOINT
//	EMBEDDING_API_KEY        falls back to OPENAI_API_KEY / AZURE_OPENAI_API_KEY
//	EMBEDDING_DIMENSIONS     expected vector length (0 = pin first observed)
//	EMBEDDING_CONCURRENCY    in-flight request cap (default: 4)
//	EMBEDDING_BATCH_SIZE     texts per request (default: 1)
//	EMBEDDING_RPS            request rate limit (default: unlimited)
//	EMBEDDING_TIMEOUT        per-request timeout (default: 60s)
func ConfigFromEnv() *Config {
	cfg := &Config{
		Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "ollama"),
		Model:      os.Getenv("EMBEDDING_MODEL"),
		Endpoint:   os.Getenv("EMBEDDING_ENDPOINT"),
		APIKey:     os.Getenv("EMBEDDING_API_KEY"),
		APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", defaultAzureVersion),
		Dispatch: DispatchConfig{
			Concurrency:       getEnvInt("EMBEDDING_CONCURRENCY", defaultConcurrency),
			BatchSize:         getEnvInt("EMBEDDING_BATCH_SIZE", defaultBatchSize),
			RequestsPerSecond: getEnvFloat("EMBEDDING_RPS", 0),
			RequestTimeout:    getEnvDuration("EMBEDDING_TIMEOUT", defaultRequestTimeout),
			Dimensions:        getEnvInt("EMBEDDING_DIMENSIONS", 0),
		},
	}

	switch cfg.Provider {
	case "ollama":
		if cfg.Endpoint == "" {
			cfg.Endpoint = getEnvOrDefault("OLLAMA_HOST", defaultOllamaHost)
		}
		if cfg.Model == "" {
			cfg.Model = defaultOllamaModel
		}
	case "openai":
		if cfg.Endpoint == "" {
			cfg.Endpoint = getEnvOrDefault("OPENAI_API_BASE", defaultOpenAIURL)
		}
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.Model == "" {
			cfg.Model = defaultOpenAIModel
		}
	case "azure":
		if cfg.Endpoint == "" {
			cfg.Endpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")
		}
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
		}
		if cfg.Model == "" {
			cfg.Model = defaultOpenAIModel
		}
	}
	return cfg
}

// NewBackend constructs the raw backend selected by cfg.Provider.
func NewBackend(cfg *Config) (Backend, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{Host: cfg.Endpoint, Model: cfg.Model}), nil

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dispatch.Dimensions,
		}), nil

	case "azure":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dispatch.Dimensions,
			Azure:      true,
			APIVersion: cfg.APIVersion,
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid values: ollama, openai, azure)", cfg.Provider)
	}
}

// New constructs the backend for cfg and wraps it in a Dispatcher.
func New(cfg *Config) (*Dispatcher, Backend, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	d, err := NewDispatcher(backend, &cfg.Dispatch)
	if err != nil {
		return nil, nil, err
	}
	return d, backend, nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
