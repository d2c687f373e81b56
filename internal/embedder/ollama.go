package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/54b3r/manualrag-go/internal/rag"
)

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the server base URL, e.g. http://localhost:11434.
	Host string
	// Model is the embedding model tag, e.g. nomic-embed-text.
	Model string
	// HTTPClient overrides the client used for requests. Optional.
	HTTPClient *http.Client
}

// OllamaEmbedder calls POST /api/embed on an Ollama server. Every input in
// a batch goes out in one request.
type OllamaEmbedder struct {
	// host is the server base URL without a trailing slash.
	host string
	// model is sent as the model field of every request.
	model string
	// client sends the requests; deadlines come from the Embed context.
	client *http.Client
}

// NewOllamaEmbedder returns an embedder for cfg. Deadlines come from the
// context passed to Embed, so the default client has no timeout.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	e := &OllamaEmbedder{
		host:   strings.TrimRight(cfg.Host, "/"),
		model:  cfg.Model,
		client: cfg.HTTPClient,
	}
	if e.client == nil {
		e.client = &http.Client{}
	}
	return e
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Name implements Backend.
func (e *OllamaEmbedder) Name() string { return "ollama-embed" }

// Embed implements rag.Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: marshal request: %w", err)
	}

	var out ollamaEmbedResponse
	if err := e.call(ctx, http.MethodPost, "/api/embed", body, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrEmbeddingService, err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: ollama embedder: %d inputs but %d embeddings",
			rag.ErrEmbeddingService, len(texts), len(out.Embeddings))
	}
	for i, v := range out.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: ollama embedder: empty embedding at %d", rag.ErrEmbeddingService, i)
		}
	}
	return out.Embeddings, nil
}

// Ping implements Backend by asking the server for its version.
func (e *OllamaEmbedder) Ping(ctx context.Context) error {
	return e.call(ctx, http.MethodGet, "/api/version", nil, nil)
}

// call sends one request and decodes a 2xx JSON reply into out when out is
// non-nil. Error replies carry Ollama's {"error": "..."} message if present.
func (e *OllamaEmbedder) call(ctx context.Context, method, path string, body []byte, out *ollamaEmbedResponse) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.host+path, rd)
	if err != nil {
		return fmt.Errorf("ollama embedder: %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama embedder: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ollama embedder: %s: read response: %w", path, err)
	}

	if resp.StatusCode/100 != 2 {
		var apiErr ollamaEmbedResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("ollama embedder: %s: HTTP %d: %s", path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("ollama embedder: %s: HTTP %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("ollama embedder: %s: decode response: %w", path, err)
	}
	return nil
}
