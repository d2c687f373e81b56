package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HealthCheckConfig probes a backend without spending tokens.
type HealthCheckConfig interface {
	HealthCheck(ctx context.Context) error
}

// httpHealthCheck issues a GET against a cheap listing endpoint.
type httpHealthCheck struct {
	url    string
	header http.Header
	client *http.Client
}

// HealthCheck returns nil when the endpoint answers 2xx.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range h.header {
		req.Header[k] = v
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s: HTTP %d", h.url, resp.StatusCode)
	}
	return nil
}

// HealthCheck returns a token-free probe for cfg's backend, or nil when the
// backend has no listing endpoint to probe.
func HealthCheck(cfg *Config) HealthCheckConfig {
	client := &http.Client{}
	switch cfg.Backend {
	case BackendOllama:
		return &httpHealthCheck{
			url:    strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags",
			client: client,
		}
	case BackendOpenAI:
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &httpHealthCheck{
			url:    strings.TrimRight(base, "/") + "/models",
			header: http.Header{"Authorization": {"Bearer " + cfg.OpenAI.APIKey}},
			client: client,
		}
	case BackendAzure:
		az := cfg.AzureOpenAI
		return &httpHealthCheck{
			url:    strings.TrimRight(az.Endpoint, "/") + "/openai/models?api-version=" + az.APIVersion,
			header: http.Header{"Api-Key": {az.APIKey}},
			client: client,
		}
	default:
		return nil
	}
}
