package provider

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
)

// Default chat models per backend. Ark has no default; ARK_MODEL names an
// endpoint id that only exists in the caller's account.
const (
	DefaultOllamaModel  = "llama3.1"
	DefaultOpenAIModel  = "gpt-4o-mini"
	DefaultGeminiModel  = "gemini-2.0-flash"
	DefaultAzureVersion = "2024-06-01"
)

// Answers are grounded in retrieved passages, so the default temperature is
// low and the default output budget is a few paragraphs.
const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.1
)

type constructor func(ctx context.Context, cfg *Config) (model.BaseChatModel, error)

var constructors = map[Backend]constructor{
	BackendOllama: newOllama,
	BackendOpenAI: newOpenAI,
	BackendAzure:  newAzure,
	BackendGemini: newGemini,
	BackendArk:    newArk,
}

// ConfigFromEnv reads the chat model settings. MODEL_PROVIDER picks the
// backend (ollama by default); each backend reads its vendor's usual
// variables:
//
//	ollama  OLLAMA_HOST, OLLAMA_MODEL
//	openai  OPENAI_API_KEY, OPENAI_API_BASE, OPENAI_MODEL
//	azure   AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT, AZURE_OPENAI_API_VERSION
//	gemini  GOOGLE_API_KEY (or GEMINI_API_KEY), GEMINI_MODEL
//	ark     ARK_API_KEY, ARK_BASE_URL, ARK_MODEL
//
// MODEL_MAX_TOKENS and MODEL_TEMPERATURE apply to every backend.
func ConfigFromEnv() *Config {
	geminiKey := os.Getenv("GOOGLE_API_KEY")
	if geminiKey == "" {
		geminiKey = os.Getenv("GEMINI_API_KEY")
	}

	return &Config{
		Backend: Backend(envOr("MODEL_PROVIDER", string(BackendOllama))),
		Ollama: ProviderOllama{
			Host:  envOr("OLLAMA_HOST", "http://localhost:11434"),
			Model: envOr("OLLAMA_MODEL", DefaultOllamaModel),
		},
		OpenAI: ProviderOpenAI{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_API_BASE"),
			Model:   envOr("OPENAI_MODEL", DefaultOpenAIModel),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
			Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
			Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			APIVersion: envOr("AZURE_OPENAI_API_VERSION", DefaultAzureVersion),
		},
		Gemini: ProviderGemini{
			APIKey: geminiKey,
			Model:  envOr("GEMINI_MODEL", DefaultGeminiModel),
		},
		Ark: ProviderArk{
			APIKey:  os.Getenv("ARK_API_KEY"),
			BaseURL: os.Getenv("ARK_BASE_URL"),
			Model:   os.Getenv("ARK_MODEL"),
		},
		Tuning: SharedTuning{
			MaxTokens:   envParse("MODEL_MAX_TOKENS", defaultMaxTokens, strconv.Atoi),
			Temperature: envParse("MODEL_TEMPERATURE", float32(defaultTemperature), parseFloat32),
		},
	}
}

// New validates cfg and builds its chat model.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	build, ok := constructors[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("provider: unknown backend %q", cfg.Backend)
	}
	return build(ctx, cfg)
}

// NewCompleter is New wrapped as a rag.Completer.
func NewCompleter(ctx context.Context, cfg *Config) (*ChatCompleter, error) {
	m, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewChatCompleter(m, string(cfg.Backend)), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envParse parses key with parse, keeping fallback when the variable is
// unset or malformed.
func envParse[T any](key string, fallback T, parse func(string) (T, error)) T {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	out, err := parse(v)
	if err != nil {
		return fallback
	}
	return out
}

func parseFloat32(s string) (float32, error) {
	f, err := strconv.ParseFloat(s, 32)
	return float32(f), err
}
