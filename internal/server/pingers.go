package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/manualrag-go/internal/provider"
	"github.com/54b3r/manualrag-go/internal/rag"
)

// LLMPinger probes the completion backend for GET /api/ready. The blob
// store, cache, registry, mirror, and embedder backends implement Pinger
// themselves; the chat model does not, so it gets this adapter.
type LLMPinger struct {
	// healthCheck is a token-free listing probe; nil for backends without one.
	healthCheck provider.HealthCheckConfig
	// completer is the fallback probe when healthCheck is nil.
	completer rag.Completer
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger. hc may be nil, in which case Ping
// sends a one-word completion through c.
func NewLLMPinger(c rag.Completer, hc provider.HealthCheckConfig, name string) *LLMPinger {
	return &LLMPinger{completer: c, healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping prefers the token-free health check and falls back to a minimal
// completion (which consumes tokens).
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.completer == nil {
		return fmt.Errorf("%s: no completion backend configured", p.name)
	}

	slog.Warn("pinger: no health endpoint, probing with a completion",
		slog.String("backend", p.name),
	)
	if _, err := p.completer.Complete(ctx, "Reply with one word.", "ping"); err != nil {
		return fmt.Errorf("completion probe failed: %w", err)
	}
	return nil
}
