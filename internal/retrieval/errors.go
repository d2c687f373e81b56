package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/54b3r/manualrag-go/internal/rag"
)

// Stage names the pipeline step an Error came from.
type Stage string

// Pipeline stages. StageRegister covers both registry writes and resolves;
// StageValidate rejects bad arguments before any remote call.
const (
	StageValidate Stage = "validate"
	StageChunk    Stage = "chunk"
	StageEmbed    Stage = "embed"
	StageEncode   Stage = "encode"
	StageStore    Stage = "store"
	StageRegister Stage = "register"
	StageDecode   Stage = "decode"
	StageRank     Stage = "rank"
	StageComplete Stage = "complete"
)

// Operation names.
const (
	OpUpload = "upload"
	OpQuery  = "query"
	OpAnswer = "answer"
)

// Error is the single error type returned by the Orchestrator. Err carries
// the underlying rag error kind, so errors.Is works through it.
type Error struct {
	// Op is the operation that failed: upload, query, or answer.
	Op string
	// Stage is the pipeline step that failed.
	Stage Stage
	// ManualID is the manual being processed, if any.
	ManualID string
	// Err is the underlying error.
	Err error
}

// Error implements error. Upload failures read as UploadError, query and
// answer failures as RetrievalError.
func (e *Error) Error() string {
	kind := "RetrievalError"
	if e.Op == OpUpload {
		kind = "UploadError"
	}
	if e.ManualID != "" {
		return fmt.Sprintf("%s: %s %q: %s: %v", kind, e.Op, e.ManualID, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s: %v", kind, e.Op, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the operation may succeed. Data errors
// (format, schema, dimension) and unknown manuals are permanent; collaborator
// failures and deadline expiry are transient.
func (e *Error) Retryable() bool {
	switch {
	case errors.Is(e.Err, rag.ErrManualNotFound),
		errors.Is(e.Err, rag.ErrBundleFormat),
		errors.Is(e.Err, rag.ErrSchemaMismatch),
		errors.Is(e.Err, rag.ErrDimensionMismatch),
		errors.Is(e.Err, rag.ErrChunking),
		errors.Is(e.Err, rag.ErrInvalidInput):
		return false
	case errors.Is(e.Err, context.DeadlineExceeded),
		errors.Is(e.Err, rag.ErrStorage),
		errors.Is(e.Err, rag.ErrRegistry),
		errors.Is(e.Err, rag.ErrEmbeddingService),
		errors.Is(e.Err, rag.ErrCompletionService):
		return true
	}
	return false
}

// Timeout reports whether the failure was a deadline expiry.
func (e *Error) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// StageOf returns the stage of the first *Error in err's chain, or "".
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// wrap tags err with op, stage, and manual id. Errors without a rag kind are
// classified by stage so every failure carries one.
func wrap(op string, stage Stage, manualID string, err error) *Error {
	if !hasKind(err) {
		err = fmt.Errorf("%w: %w", stageKind(stage), err)
	}
	return &Error{Op: op, Stage: stage, ManualID: manualID, Err: err}
}

// hasKind reports whether err already wraps a rag error kind.
func hasKind(err error) bool {
	for _, k := range []error{
		rag.ErrChunking, rag.ErrEmbeddingService, rag.ErrBundleFormat,
		rag.ErrSchemaMismatch, rag.ErrDimensionMismatch, rag.ErrStorage,
		rag.ErrRegistry, rag.ErrCompletionService, rag.ErrManualNotFound,
		rag.ErrInvalidInput,
	} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// stageKind is the default error kind for failures at stage.
func stageKind(stage Stage) error {
	switch stage {
	case StageValidate:
		return rag.ErrInvalidInput
	case StageChunk:
		return rag.ErrChunking
	case StageEmbed:
		return rag.ErrEmbeddingService
	case StageEncode, StageDecode:
		return rag.ErrBundleFormat
	case StageStore:
		return rag.ErrStorage
	case StageRegister:
		return rag.ErrRegistry
	case StageRank:
		return rag.ErrDimensionMismatch
	case StageComplete:
		return rag.ErrCompletionService
	}
	return rag.ErrStorage
}
