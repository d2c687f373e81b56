package rag

import "errors"

// Error kinds raised by the pipeline and its collaborators. Implementations
// wrap one of these so callers can branch with errors.Is.
var (
	ErrChunking          = errors.New("chunking failed")
	ErrEmbeddingService  = errors.New("embedding service error")
	ErrBundleFormat      = errors.New("malformed bundle")
	ErrSchemaMismatch    = errors.New("bundle schema mismatch")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrStorage           = errors.New("storage error")
	ErrRegistry          = errors.New("registry error")
	ErrCompletionService = errors.New("completion service error")
	ErrManualNotFound    = errors.New("manual not found")
	ErrInvalidInput      = errors.New("invalid input")
)
