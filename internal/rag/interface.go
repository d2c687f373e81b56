// Package rag defines the domain types and collaborator interfaces of the
// manual retrieval pipeline: passages, embeddings, storage handles, registry
// records, and the ports for embedding, storage, registry, and completion.
// Concrete implementations live in sibling packages so the orchestrator never
// depends on a specific backend.
package rag

import (
	"context"
)

// Passage is a bounded excerpt of a manual produced by the chunker.
type Passage struct {
	// Text is the passage content, sentences joined by single spaces.
	Text string

	// Offset is the rune offset of the passage within the reconstructed
	// joined text of the manual (not the raw upload).
	Offset int
}

// Embedding is a dense vector for a passage or query.
type Embedding = []float32

// Handle is an opaque content-derived identifier returned by a BlobStore
// (an IPFS CID in production).
type Handle string

// String returns the handle as a plain string.
func (h Handle) String() string { return string(h) }

// Registration is the registry record for one version of a manual.
type Registration struct {
	// ManualID is the caller-chosen identifier of the manual.
	ManualID string
	// ContentHandle points at the content bundle.
	ContentHandle Handle
	// VectorHandle points at the vector bundle.
	VectorHandle Handle
	// Version is the registry version. Zero means the backend does not
	// track versions.
	Version int
}

// Credentials authorise a registry write.
type Credentials struct {
	// Account is the signing account address.
	Account string
	// PrivateKey is the hex-encoded signing key. Never logged.
	PrivateKey string
}

// Receipt describes a confirmed registry write.
type Receipt struct {
	// TxHash identifies the write (transaction hash or ledger row key).
	TxHash string
	// Block is the block number the write was included in. Zero for
	// non-chain registries.
	Block uint64
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// BlobStore is a content-addressed blob store.
// Implementations must be safe to call from multiple goroutines.
type BlobStore interface {
	// Put stores data and returns its content-derived handle. Identical
	// bytes may yield the identical handle.
	Put(ctx context.Context, data []byte) (Handle, error)

	// Get returns the bytes stored under h.
	Get(ctx context.Context, h Handle) ([]byte, error)
}

// Registry maps manual identifiers to their latest storage handles.
// Implementations must be safe to call from multiple goroutines.
type Registry interface {
	// Register records reg, authorised by creds, and blocks until the write
	// is confirmed.
	Register(ctx context.Context, reg Registration, creds Credentials) (*Receipt, error)

	// Resolve returns the latest registration for manualID as seen by
	// caller. Returns an error wrapping ErrManualNotFound when the manual
	// has never been registered.
	Resolve(ctx context.Context, manualID, caller string) (*Registration, error)
}

// Completer issues a single prompt-to-text completion.
type Completer interface {
	// Complete sends the system and user prompts and returns the model's
	// reply verbatim.
	Complete(ctx context.Context, system, user string) (string, error)
}
