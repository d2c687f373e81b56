package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/54b3r/manualrag-go/internal/rag"
)

// Dispatcher defaults.
const (
	defaultConcurrency    = 4
	defaultBatchSize      = 1
	defaultRequestTimeout = 60 * time.Second
)

// DispatchConfig controls how a Dispatcher fans requests out to a backend.
type DispatchConfig struct {
	// Concurrency caps the number of in-flight backend requests. Default 4.
	Concurrency int
	// BatchSize is the number of texts sent per backend request. Default 1,
	// one request per text.
	BatchSize int
	// RequestsPerSecond throttles backend requests. Zero disables throttling.
	RequestsPerSecond float64
	// Burst is the token-bucket burst when RequestsPerSecond is set.
	// Defaults to Concurrency.
	Burst int
	// RequestTimeout bounds each backend request. Default 60s.
	RequestTimeout time.Duration
	// Dimensions pins the expected vector length. Zero pins the first
	// observed length.
	Dimensions int
}

// Dispatcher is a rag.Embedder that splits a call into backend requests,
// runs them with bounded concurrency, and reassembles the results in input
// order. It also enforces that every vector it returns has the same length
// for the lifetime of the Dispatcher.
type Dispatcher struct {
	// backend performs the remote embedding requests.
	backend rag.Embedder
	// cfg is the resolved dispatch configuration.
	cfg DispatchConfig
	// limiter throttles backend requests; nil when unthrottled.
	limiter *rate.Limiter
	// dims is the pinned vector length, 0 until first observed.
	dims atomic.Int64
}

// NewDispatcher wraps backend. A nil cfg uses defaults.
func NewDispatcher(backend rag.Embedder, cfg *DispatchConfig) (*Dispatcher, error) {
	if backend == nil {
		return nil, fmt.Errorf("embedder: backend must not be nil")
	}
	c := DispatchConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.Burst <= 0 {
		c.Burst = c.Concurrency
	}
	if c.Dimensions < 0 {
		return nil, fmt.Errorf("embedder: dimensions must not be negative, got %d", c.Dimensions)
	}

	d := &Dispatcher{backend: backend, cfg: c}
	if c.RequestsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), c.Burst)
	}
	d.dims.Store(int64(c.Dimensions))
	return d, nil
}

// Dimensions returns the pinned vector length, or 0 if no vector has been
// observed and none was configured.
func (d *Dispatcher) Dimensions() int {
	return int(d.dims.Load())
}

// Embed returns one embedding per text, index-aligned with texts. The first
// failing backend request cancels the rest and its error is returned.
func (d *Dispatcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	for start := 0; start < len(texts); start += d.cfg.BatchSize {
		end := min(start+d.cfg.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := d.embedBatch(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("texts [%d:%d]: %w", start, end, err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	return out, nil
}

// embedBatch issues one throttled, time-bounded backend request and
// validates its result.
func (d *Dispatcher) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, serviceError(fmt.Errorf("throttle: %w", err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	vecs, err := d.backend.Embed(ctx, texts)
	if err != nil {
		return nil, serviceError(err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: backend returned %d embeddings for %d texts", rag.ErrEmbeddingService, len(vecs), len(texts))
	}
	for i, v := range vecs {
		if err := d.checkDimensions(len(v)); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
	}
	return vecs, nil
}

// checkDimensions pins the first observed length and rejects any other.
func (d *Dispatcher) checkDimensions(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: empty embedding", rag.ErrEmbeddingService)
	}
	want := d.dims.Load()
	if want == 0 {
		if d.dims.CompareAndSwap(0, int64(n)) {
			return nil
		}
		want = d.dims.Load()
	}
	if int64(n) != want {
		return fmt.Errorf("%w: %w: got %d dimensions, model produces %d",
			rag.ErrEmbeddingService, rag.ErrDimensionMismatch, n, want)
	}
	return nil
}

// serviceError tags err as an embedding service failure unless it already is.
func serviceError(err error) error {
	if errors.Is(err, rag.ErrEmbeddingService) {
		return err
	}
	return fmt.Errorf("%w: %w", rag.ErrEmbeddingService, err)
}
