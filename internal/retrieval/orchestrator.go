// Package retrieval orchestrates the manual pipeline: upload (chunk, embed,
// encode, store, register), query (resolve, fetch, decode, embed, rank), and
// answer (one completion over the ranked passages).
//
// The registry write is the single commit point of an upload. Blobs stored
// before a failed registration are orphaned but harmless. Every failure is
// returned as an *Error naming the stage and whether a retry may help.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/manualrag-go/internal/budget"
	"github.com/54b3r/manualrag-go/internal/bundle"
	"github.com/54b3r/manualrag-go/internal/chunker"
	"github.com/54b3r/manualrag-go/internal/logging"
	"github.com/54b3r/manualrag-go/internal/rag"
	"github.com/54b3r/manualrag-go/internal/ranker"
)

// Prompt text for the answer stage.
const (
	SystemPrompt = "You are a technical support assistant. Use the provided manual content to answer user queries accurately and concisely."
	userTemplate = "Based on these manual sections:\n%s\n\nQuery: %s"
	contextSep   = "\n"
)

// Defaults applied by New.
const (
	DefaultTopK        = 3
	DefaultCallTimeout = 60 * time.Second
)

// Mirror receives committed passages after a successful upload.
type Mirror interface {
	Mirror(ctx context.Context, reg rag.Registration, passages []rag.Passage, embeddings [][]float32) error
}

// Config wires an Orchestrator to its collaborators.
type Config struct {
	// Embedder embeds passages and queries. Required.
	Embedder rag.Embedder
	// Store persists bundles. Required.
	Store rag.BlobStore
	// Registry maps manual ids to bundle handles. Required.
	Registry rag.Registry
	// Completer answers queries. Optional; Answer fails without it.
	Completer rag.Completer
	// Mirror receives passages after commit. Optional.
	Mirror Mirror
	// Metrics records pipeline metrics. Optional.
	Metrics *Metrics

	// ChunkSize is the passage budget in characters
	// (default: chunker.DefaultMaxChunkSize).
	ChunkSize int
	// TopK is used when a query asks for k <= 0 (default: DefaultTopK).
	TopK int
	// CallTimeout bounds every single remote call (default:
	// DefaultCallTimeout). Batch embedding is bounded per request by the
	// Embedder instead.
	CallTimeout time.Duration
	// MaxContextTokens bounds the answer prompt
	// (default: budget.DefaultMaxContextTokens; negative disables trimming).
	MaxContextTokens int
	// SkipUnchanged skips the registry write when the latest registration
	// already points at identical bundles.
	SkipUnchanged bool
}

// Orchestrator runs the upload, query, and answer workflows. It holds no
// mutable state and is safe for concurrent use.
type Orchestrator struct {
	cfg Config
}

// UploadResult describes a completed upload.
type UploadResult struct {
	ManualID      string       `json:"manual_id"`
	ContentHandle rag.Handle   `json:"content_handle"`
	VectorHandle  rag.Handle   `json:"vector_handle"`
	Version       int          `json:"version"`
	Passages      int          `json:"passages"`
	Receipt       *rag.Receipt `json:"receipt,omitempty"`
	// Unchanged is set when SkipUnchanged found identical bundles already
	// registered and no registry write was made.
	Unchanged bool `json:"unchanged,omitempty"`
	// Mirrored reports whether the passage mirror accepted the upload.
	Mirrored bool `json:"mirrored,omitempty"`
}

// Result is one ranked passage.
type Result struct {
	Text   string  `json:"chunk"`
	Score  float64 `json:"score"`
	Offset int     `json:"position"`
	// Index is the passage's position in the content bundle.
	Index int `json:"index"`
}

// AskResult is the output of Ask.
type AskResult struct {
	Answer   string   `json:"answer"`
	Passages []Result `json:"passages"`
}

// New validates cfg and returns an Orchestrator.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("retrieval: embedder is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("retrieval: blob store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("retrieval: registry is required")
	}
	c := *cfg
	if c.ChunkSize <= 0 {
		c.ChunkSize = chunker.DefaultMaxChunkSize
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	return &Orchestrator{cfg: c}, nil
}

// Upload chunks, embeds, and stores text, then registers the bundles as the
// next version of manualID. Nothing is registered unless every prior stage
// succeeds.
func (o *Orchestrator) Upload(ctx context.Context, manualID, text string, creds rag.Credentials) (res *UploadResult, err error) {
	run := o.start(ctx, OpUpload, manualID)
	defer func() { run.finish(err) }()

	if strings.TrimSpace(manualID) == "" {
		return nil, run.fail(StageValidate, fmt.Errorf("%w: manual id is empty", rag.ErrInvalidInput))
	}

	done := run.stage(StageChunk)
	passages := chunker.Split(text, o.cfg.ChunkSize)
	done()
	o.cfg.Metrics.observePassages(len(passages))

	texts := make([]string, len(passages))
	positions := make([]int, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
		positions[i] = p.Offset
	}

	done = run.stage(StageEmbed)
	embeddings, err := o.embed(ctx, texts)
	done()
	if err != nil {
		return nil, run.fail(StageEmbed, err)
	}

	done = run.stage(StageEncode)
	contentBlob, vectorBlob, err := encodePair(text, passages, embeddings, positions)
	done()
	if err != nil {
		return nil, run.fail(StageEncode, err)
	}

	return o.commit(ctx, run, manualID, creds, passages, embeddings, contentBlob, vectorBlob)
}

// commit stores both blobs, registers them, and mirrors the passages.
func (o *Orchestrator) commit(
	ctx context.Context,
	run *operation,
	manualID string,
	creds rag.Credentials,
	passages []rag.Passage,
	embeddings [][]float32,
	contentBlob, vectorBlob []byte,
) (*UploadResult, error) {
	done := run.stage(StageStore)
	var contentHandle, vectorHandle rag.Handle
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.call(gctx, func(ctx context.Context) (err error) {
			contentHandle, err = o.cfg.Store.Put(ctx, contentBlob)
			return err
		})
	})
	g.Go(func() error {
		return o.call(gctx, func(ctx context.Context) (err error) {
			vectorHandle, err = o.cfg.Store.Put(ctx, vectorBlob)
			return err
		})
	})
	err := g.Wait()
	done()
	if err != nil {
		return nil, run.fail(StageStore, err)
	}

	done = run.stage(StageRegister)
	defer done()

	current, err := o.resolve(ctx, manualID, creds.Account)
	switch {
	case errors.Is(err, rag.ErrManualNotFound):
		current = nil
	case err != nil:
		return nil, run.fail(StageRegister, err)
	}

	res := &UploadResult{
		ManualID:      manualID,
		ContentHandle: contentHandle,
		VectorHandle:  vectorHandle,
		Passages:      len(passages),
	}

	if o.cfg.SkipUnchanged && current != nil &&
		current.ContentHandle == contentHandle && current.VectorHandle == vectorHandle {
		res.Version = current.Version
		res.Unchanged = true
		run.log.Info("retrieval: upload unchanged, registry write skipped",
			slog.Int("version", current.Version),
		)
		return res, nil
	}

	reg := rag.Registration{
		ManualID:      manualID,
		ContentHandle: contentHandle,
		VectorHandle:  vectorHandle,
		Version:       1,
	}
	if current != nil {
		reg.Version = current.Version + 1
	}

	var receipt *rag.Receipt
	if err := o.call(ctx, func(ctx context.Context) (err error) {
		receipt, err = o.cfg.Registry.Register(ctx, reg, creds)
		return err
	}); err != nil {
		return nil, run.fail(StageRegister, err)
	}
	res.Version = reg.Version
	res.Receipt = receipt

	if o.cfg.Mirror != nil {
		if err := o.call(ctx, func(ctx context.Context) error {
			return o.cfg.Mirror.Mirror(ctx, reg, passages, embeddings)
		}); err != nil {
			run.log.Warn("retrieval: passage mirror failed after commit",
				slog.Int("version", reg.Version),
				slog.Any("error", err),
			)
		} else {
			res.Mirrored = true
		}
	}

	run.log.Info("retrieval: manual registered",
		slog.Int("version", reg.Version),
		slog.Int("passages", len(passages)),
		slog.String("content_handle", contentHandle.String()),
		slog.String("vector_handle", vectorHandle.String()),
	)
	return res, nil
}

// Query returns the k passages of manualID most similar to queryText, best
// first. k <= 0 uses Config.TopK. caller is passed to the registry for
// access control.
func (o *Orchestrator) Query(ctx context.Context, manualID, queryText string, k int, caller string) (results []Result, err error) {
	run := o.start(ctx, OpQuery, manualID)
	defer func() { run.finish(err) }()
	return o.query(ctx, run, manualID, queryText, k, caller)
}

func (o *Orchestrator) query(ctx context.Context, run *operation, manualID, queryText string, k int, caller string) ([]Result, error) {
	if strings.TrimSpace(manualID) == "" {
		return nil, run.fail(StageValidate, fmt.Errorf("%w: manual id is empty", rag.ErrInvalidInput))
	}
	if k <= 0 {
		k = o.cfg.TopK
	}

	done := run.stage(StageRegister)
	reg, err := o.resolve(ctx, manualID, caller)
	done()
	if err != nil {
		return nil, run.fail(StageRegister, err)
	}

	done = run.stage(StageStore)
	var contentBlob, vectorBlob []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.call(gctx, func(ctx context.Context) (err error) {
			contentBlob, err = o.cfg.Store.Get(ctx, reg.ContentHandle)
			return err
		})
	})
	g.Go(func() error {
		return o.call(gctx, func(ctx context.Context) (err error) {
			vectorBlob, err = o.cfg.Store.Get(ctx, reg.VectorHandle)
			return err
		})
	})
	err = g.Wait()
	done()
	if err != nil {
		return nil, run.fail(StageStore, err)
	}

	done = run.stage(StageDecode)
	content, vectors, err := decodePair(contentBlob, vectorBlob)
	done()
	if err != nil {
		return nil, run.fail(StageDecode, err)
	}
	if len(content.Chunks) == 0 {
		return []Result{}, nil
	}

	done = run.stage(StageEmbed)
	qv, err := o.embed(ctx, []string{queryText})
	done()
	if err != nil {
		return nil, run.fail(StageEmbed, err)
	}

	done = run.stage(StageRank)
	ranked, err := ranker.Rank(qv[0], vectors.Embeddings, k)
	done()
	if err != nil {
		return nil, run.fail(StageRank, err)
	}

	results := make([]Result, len(ranked))
	for i, r := range ranked {
		c := content.Chunks[r.Index]
		results[i] = Result{Text: c.Text, Score: r.Score, Offset: c.Position, Index: r.Index}
	}
	run.log.Debug("retrieval: query ranked",
		slog.Int("version", reg.Version),
		slog.Int("candidates", len(vectors.Embeddings)),
		slog.Int("results", len(results)),
	)
	return results, nil
}

// Answer asks the completion service to answer queryText from the ranked
// passages and returns its reply verbatim. Lower-ranked passages are dropped
// when the prompt would exceed MaxContextTokens.
func (o *Orchestrator) Answer(ctx context.Context, queryText string, passages []Result) (answer string, err error) {
	run := o.start(ctx, OpAnswer, "")
	defer func() { run.finish(err) }()
	return o.answer(ctx, run, queryText, passages)
}

func (o *Orchestrator) answer(ctx context.Context, run *operation, queryText string, passages []Result) (string, error) {
	if o.cfg.Completer == nil {
		return "", run.fail(StageComplete, fmt.Errorf("%w: no completion backend configured", rag.ErrCompletionService))
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	fixed := []*schema.Message{
		schema.SystemMessage(SystemPrompt),
		schema.UserMessage(fmt.Sprintf(userTemplate, "", queryText)),
	}
	kept := budget.FitPassages(fixed, texts, contextSep, o.cfg.MaxContextTokens)
	if len(kept) < len(texts) {
		run.log.Warn("retrieval: answer context trimmed to token budget",
			slog.Int("passages", len(texts)),
			slog.Int("kept", len(kept)),
			slog.Int("max_tokens", o.cfg.MaxContextTokens),
		)
	}
	user := fmt.Sprintf(userTemplate, strings.Join(kept, contextSep), queryText)

	done := run.stage(StageComplete)
	var answer string
	err := o.call(ctx, func(ctx context.Context) (err error) {
		answer, err = o.cfg.Completer.Complete(ctx, SystemPrompt, user)
		return err
	})
	done()
	if err != nil {
		return "", run.fail(StageComplete, err)
	}
	return answer, nil
}

// Ask runs Query then Answer over its results.
func (o *Orchestrator) Ask(ctx context.Context, manualID, queryText string, k int, caller string) (res *AskResult, err error) {
	run := o.start(ctx, OpAnswer, manualID)
	defer func() { run.finish(err) }()

	passages, err := o.query(ctx, run, manualID, queryText, k, caller)
	if err != nil {
		return nil, err
	}
	answer, err := o.answer(ctx, run, queryText, passages)
	if err != nil {
		return nil, err
	}
	return &AskResult{Answer: answer, Passages: passages}, nil
}

// embed calls the embedder for texts and checks the result count. A single
// text is one remote call and runs under CallTimeout. Larger batches fan out
// into many requests inside the Embedder, which bounds each request itself
// (see embedder.DispatchConfig.RequestTimeout), so only ctx limits the batch.
func (o *Orchestrator) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	var out [][]float32
	fn := func(ctx context.Context) (err error) {
		out, err = o.cfg.Embedder.Embed(ctx, texts)
		return err
	}
	var err error
	if len(texts) == 1 {
		err = o.call(ctx, fn)
	} else {
		err = fn(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", rag.ErrEmbeddingService, len(out), len(texts))
	}
	return out, nil
}

// resolve looks up the latest registration of manualID.
func (o *Orchestrator) resolve(ctx context.Context, manualID, caller string) (*rag.Registration, error) {
	var reg *rag.Registration
	err := o.call(ctx, func(ctx context.Context) (err error) {
		reg, err = o.cfg.Registry.Resolve(ctx, manualID, caller)
		return err
	})
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, fmt.Errorf("%w: %q", rag.ErrManualNotFound, manualID)
	}
	return reg, nil
}

// call runs fn under CallTimeout. A deadline hit inside fn is reported as
// context.DeadlineExceeded even when the collaborator dropped it.
func (o *Orchestrator) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", err, context.DeadlineExceeded)
	}
	return err
}

// encodePair serializes the content and vector bundles.
func encodePair(text string, passages []rag.Passage, embeddings [][]float32, positions []int) ([]byte, []byte, error) {
	contentBlob, err := bundle.EncodeContent(text, passages, embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("content bundle: %w", err)
	}
	vectorBlob, err := bundle.EncodeVectors(embeddings, positions)
	if err != nil {
		return nil, nil, fmt.Errorf("vector bundle: %w", err)
	}
	return contentBlob, vectorBlob, nil
}

// decodePair decodes both bundles and checks that they line up.
func decodePair(contentBlob, vectorBlob []byte) (*bundle.Content, *bundle.Vectors, error) {
	content, err := bundle.DecodeContent(contentBlob)
	if err != nil {
		return nil, nil, fmt.Errorf("content bundle: %w", err)
	}
	vectors, err := bundle.DecodeVectors(vectorBlob)
	if err != nil {
		return nil, nil, fmt.Errorf("vector bundle: %w", err)
	}
	if err := bundle.CheckPair(content, vectors); err != nil {
		return nil, nil, err
	}
	return content, vectors, nil
}

// operation tracks one public call for logging and metrics.
type operation struct {
	o        *Orchestrator
	op       string
	manualID string
	log      *slog.Logger
	began    time.Time
}

func (o *Orchestrator) start(ctx context.Context, op, manualID string) *operation {
	log := logging.FromContext(ctx).With(slog.String("op", op))
	if manualID != "" {
		log = log.With(slog.String("manual_id", manualID))
	}
	return &operation{o: o, op: op, manualID: manualID, log: log, began: time.Now()}
}

// stage starts timing s and returns the func that stops it.
func (r *operation) stage(s Stage) func() {
	began := time.Now()
	return func() {
		elapsed := time.Since(began)
		r.o.cfg.Metrics.observeStage(r.op, s, elapsed.Seconds())
		r.log.Debug("retrieval: stage done", slog.String("stage", string(s)), slog.Duration("elapsed", elapsed))
	}
}

// fail wraps err as an *Error for stage.
func (r *operation) fail(s Stage, err error) error {
	return wrap(r.op, s, r.manualID, err)
}

// finish records the outcome of the operation.
func (r *operation) finish(err error) {
	r.o.cfg.Metrics.observeOutcome(r.op, err)
	if err != nil {
		r.log.Error("retrieval: operation failed",
			slog.String("stage", string(StageOf(err))),
			slog.Bool("retryable", IsRetryable(err)),
			slog.Any("error", err),
		)
		return
	}
	r.log.Debug("retrieval: operation done", slog.Duration("elapsed", time.Since(r.began)))
}
