package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/manualrag-go/internal/blobstore"
	"github.com/54b3r/manualrag-go/internal/embedder"
	"github.com/54b3r/manualrag-go/internal/mirror"
	"github.com/54b3r/manualrag-go/internal/provider"
	"github.com/54b3r/manualrag-go/internal/rag"
	"github.com/54b3r/manualrag-go/internal/registry"
	"github.com/54b3r/manualrag-go/internal/retrieval"
	"github.com/54b3r/manualrag-go/internal/server"
	"github.com/54b3r/manualrag-go/internal/tracing"
)

// completion says whether a command needs the chat model.
type completion int

const (
	completionNone completion = iota
	// completionOptional wires the model when its config is valid.
	completionOptional
	completionRequired
)

// pipelineOptions carries per-command overrides of the env configuration.
type pipelineOptions struct {
	chunkSize  int
	completion completion
	// metrics registers pipeline metrics; nil disables them.
	metrics prometheus.Registerer
}

// pipeline is a fully wired orchestrator plus what the caller needs to
// serve readiness probes and shut down cleanly.
type pipeline struct {
	orch     *retrieval.Orchestrator
	registry registry.Backend
	pingers  []server.Pinger
	closers  []func()
}

// Close releases every backend connection in reverse order of creation.
func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// buildPipeline wires the orchestrator from the environment:
//
//	IPFS_API_URL                   Kubo RPC endpoint (default: http://127.0.0.1:5001)
//	IPFS_TIMEOUT                   per-RPC bound for IPFS calls (default: 2m)
//	REDIS_URL                      enables the blob cache
//	REDIS_CACHE_TTL                cache entry lifetime (default: no expiry)
//	MANUALRAG_CHUNK_SIZE           passage budget in characters (default: 1000)
//	MANUALRAG_TOP_K                passages per query (default: 3)
//	MANUALRAG_CALL_TIMEOUT         bound on each remote call (default: 60s)
//	MANUALRAG_MAX_CONTEXT_TOKENS   answer prompt budget (default: 6000, negative disables)
//	MANUALRAG_SKIP_UNCHANGED       skip registry writes for identical uploads
//
// plus the embedder, registry, provider, qdrant, and langfuse variables read
// by their packages' ConfigFromEnv functions.
func buildPipeline(ctx context.Context, log *slog.Logger, opts pipelineOptions) (_ *pipeline, err error) {
	p := &pipeline{}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	embCfg := embedder.ConfigFromEnv()
	if os.Getenv("EMBEDDING_TIMEOUT") == "" {
		if d := getEnvDuration("MANUALRAG_CALL_TIMEOUT", 0); d > 0 {
			embCfg.Dispatch.RequestTimeout = d
		}
	}
	if err := embedder.Validate(embCfg, log); err != nil {
		return nil, err
	}
	emb, embBackend, err := embedder.New(embCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	p.pingers = append(p.pingers, embBackend)
	log.Info("embedder initialised",
		slog.String("provider", embCfg.Provider),
		slog.String("model", embCfg.Model),
	)

	ipfs := blobstore.NewIPFS(&blobstore.IPFSConfig{
		Endpoint: os.Getenv("IPFS_API_URL"),
		Timeout:  getEnvDuration("IPFS_TIMEOUT", 0),
	})
	p.pingers = append(p.pingers, ipfs)
	var store rag.BlobStore = ipfs
	if url := os.Getenv("REDIS_URL"); url != "" {
		cache, cerr := blobstore.NewRedisCache(ctx, &blobstore.RedisConfig{
			URL: url,
			TTL: getEnvDuration("REDIS_CACHE_TTL", 0),
		})
		if cerr != nil {
			// The cache is an accelerator only.
			log.Warn("blob cache disabled", slog.Any("error", cerr))
		} else {
			p.closers = append(p.closers, func() { _ = cache.Close() })
			p.pingers = append(p.pingers, cache)
			store = blobstore.NewCached(ipfs, cache, 0)
			log.Info("blob cache enabled")
		}
	}

	regCfg := registry.ConfigFromEnv()
	reg, err := registry.Open(ctx, regCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	p.registry = reg
	p.closers = append(p.closers, func() { _ = reg.Close() })
	p.pingers = append(p.pingers, reg)
	log.Info("registry opened", slog.String("backend", regCfg.Backend))

	var mir retrieval.Mirror
	if qcfg := mirror.ConfigFromEnv(); qcfg != nil {
		q, qerr := mirror.NewQdrant(qcfg)
		if qerr != nil {
			log.Warn("passage mirror disabled", slog.Any("error", qerr))
		} else {
			mir = q
			p.closers = append(p.closers, func() { _ = q.Close() })
			p.pingers = append(p.pingers, q)
			log.Info("passage mirror enabled", slog.String("host", qcfg.Host))
		}
	}

	var completer rag.Completer
	if opts.completion != completionNone {
		c, hc, cerr := buildCompleter(ctx, log)
		switch {
		case cerr != nil && opts.completion == completionRequired:
			return nil, cerr
		case cerr != nil:
			log.Warn("answers disabled", slog.Any("error", cerr))
		default:
			completer = c
			p.pingers = append(p.pingers, server.NewLLMPinger(c, hc, c.Name()))
			flush, ok := tracing.Setup(tracing.ConfigFromEnv())
			p.closers = append(p.closers, flush)
			log.Info("completion backend initialised",
				slog.String("provider", c.Name()),
				slog.Bool("langfuse", ok),
			)
		}
	}

	var metrics *retrieval.Metrics
	if opts.metrics != nil {
		metrics = retrieval.NewMetrics(opts.metrics)
	}

	chunkSize := opts.chunkSize
	if chunkSize <= 0 {
		chunkSize = getEnvInt("MANUALRAG_CHUNK_SIZE", 0)
	}
	skip, _ := strconv.ParseBool(os.Getenv("MANUALRAG_SKIP_UNCHANGED"))

	p.orch, err = retrieval.New(&retrieval.Config{
		Embedder:         emb,
		Store:            store,
		Registry:         reg,
		Completer:        completer,
		Mirror:           mir,
		Metrics:          metrics,
		ChunkSize:        chunkSize,
		TopK:             getEnvInt("MANUALRAG_TOP_K", 0),
		CallTimeout:      getEnvDuration("MANUALRAG_CALL_TIMEOUT", 0),
		MaxContextTokens: getEnvInt("MANUALRAG_MAX_CONTEXT_TOKENS", 0),
		SkipUnchanged:    skip,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// buildCompleter constructs the chat completer and its token-free health
// probe (nil for backends without one).
func buildCompleter(ctx context.Context, log *slog.Logger) (*provider.ChatCompleter, provider.HealthCheckConfig, error) {
	cfg := provider.ConfigFromEnv()
	c, err := provider.NewCompleter(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Debug("provider configured", slog.String("model", cfg.ModelName()))
	return c, provider.HealthCheck(cfg), nil
}

// credentialsFromEnv reads the registry signing account.
func credentialsFromEnv() rag.Credentials {
	return rag.Credentials{
		Account:    os.Getenv("ACCOUNT_ADDRESS"),
		PrivateKey: os.Getenv("PRIVATE_KEY"),
	}
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// getEnvInt returns the named variable parsed as an int, or fallback when it
// is unset or invalid.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration returns the named variable parsed as a duration, or
// fallback when it is unset or invalid.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvOrDefault returns the named variable, or fallback when it is unset
// or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
