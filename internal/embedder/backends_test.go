package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/manualrag-go/internal/rag"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "nomic-embed-text" {
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
			return
		}
		resp := ollamaEmbedResponse{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(i), 0.5})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL + "/", Model: "nomic-embed-text"})
	got, err := emb.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 2 || got[1][0] != 1 {
		t.Errorf("unexpected embeddings: %v", got)
	}
}

func TestOllamaEmbedder_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"model crashed"}`)
	}))
	t.Cleanup(srv.Close)

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m"})
	_, err := emb.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, rag.ErrEmbeddingService) {
		t.Fatalf("want ErrEmbeddingService, got %v", err)
	}
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"embeddings":[[1,2]]}`)
	}))
	t.Cleanup(srv.Close)

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m"})
	_, err := emb.Embed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, rag.ErrEmbeddingService) {
		t.Fatalf("want ErrEmbeddingService, got %v", err)
	}
}

func TestOllamaEmbedder_Ping(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/version" {
			_, _ = io.WriteString(w, `{"version":"0.5.0"}`)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m"})
	if err := emb.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Respond out of order to exercise index placement.
		type datum struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]datum, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, datum{Object: "embedding", Embedding: []float32{float32(i), 1, 2}, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "text-embedding-3-small"})
	got, err := emb.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i, v := range got {
		if int(v[0]) != i {
			t.Errorf("embedding %d placed at wrong index: %v", i, v)
		}
	}

	bad := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "wrong", Model: "m"})
	if _, err := bad.Embed(context.Background(), []string{"a"}); !errors.Is(err, rag.ErrEmbeddingService) {
		t.Errorf("bad key: want ErrEmbeddingService, got %v", err)
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("EMBEDDING_MODEL", "")
	t.Setenv("EMBEDDING_ENDPOINT", "")
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("EMBEDDING_CONCURRENCY", "")

	cfg := ConfigFromEnv()
	if cfg.Provider != "ollama" || cfg.Model != defaultOllamaModel || cfg.Endpoint != defaultOllamaHost {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Dispatch.Concurrency != defaultConcurrency {
		t.Errorf("concurrency: want %d, got %d", defaultConcurrency, cfg.Dispatch.Concurrency)
	}
}

func TestConfigFromEnv_OpenAIFallbacks(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("EMBEDDING_ENDPOINT", "")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("EMBEDDING_MODEL", "text-embedding-bge-m3")
	t.Setenv("OPENAI_API_BASE", "http://localhost:1234/v1")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("EMBEDDING_RPS", "2.5")

	cfg := ConfigFromEnv()
	if cfg.Endpoint != "http://localhost:1234/v1" || cfg.APIKey != "sk-env" || cfg.Model != "text-embedding-bge-m3" {
		t.Errorf("unexpected openai config: %+v", cfg)
	}
	if cfg.Dispatch.RequestsPerSecond != 2.5 {
		t.Errorf("rps: want 2.5, got %v", cfg.Dispatch.RequestsPerSecond)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ollama ok", Config{Provider: "ollama", Endpoint: "http://x"}, false},
		{"openai no key", Config{Provider: "openai"}, true},
		{"azure no endpoint", Config{Provider: "azure", APIKey: "k"}, true},
		{"unknown", Config{Provider: "bedrock"}, true},
		{"negative batch", Config{Provider: "ollama", Endpoint: "http://x", Dispatch: DispatchConfig{BatchSize: -1}}, true},
		{"chat model warns only", Config{Provider: "ollama", Endpoint: "http://x", Model: "llama3"}, false},
	}
	for _, tc := range cases {
		err := Validate(&tc.cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: wantErr=%v, got %v", tc.name, tc.wantErr, err)
		}
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	if !looksLikeChatModel("gpt-4-turbo-preview") {
		t.Error("gpt-4-turbo-preview should look like a chat model")
	}
	if looksLikeChatModel("text-embedding-bge-m3") {
		t.Error("text-embedding-bge-m3 should not look like a chat model")
	}
}
