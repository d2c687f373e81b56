package blobstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/54b3r/manualrag-go/internal/bundle"
	"github.com/54b3r/manualrag-go/internal/rag"
)

// Memory is an in-process rag.BlobStore addressed by sha256. Blobs live for
// the lifetime of the value.
type Memory struct {
	mu    sync.RWMutex
	blobs map[rag.Handle][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[rag.Handle][]byte)}
}

// Put stores a copy of data under its digest.
func (m *Memory) Put(ctx context.Context, data []byte) (rag.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: memory: %w", rag.ErrStorage, err)
	}
	h := bundle.Digest(data)
	m.mu.Lock()
	if _, ok := m.blobs[h]; !ok {
		m.blobs[h] = append([]byte(nil), data...)
	}
	m.mu.Unlock()
	return h, nil
}

// Get returns a copy of the blob stored under h.
func (m *Memory) Get(ctx context.Context, h rag.Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: memory: %w", rag.ErrStorage, err)
	}
	m.mu.RLock()
	data, ok := m.blobs[h]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: memory: no blob %s", rag.ErrStorage, h)
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of distinct blobs stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
