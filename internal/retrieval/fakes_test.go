package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/54b3r/manualrag-go/internal/blobstore"
	"github.com/54b3r/manualrag-go/internal/rag"
)

// letterEmbedder embeds text as its 26 letter counts, so identical texts
// have cosine similarity exactly 1.
type letterEmbedder struct {
	calls atomic.Int32
	dims  int
	err   error
}

func (e *letterEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	dims := e.dims
	if dims == 0 {
		dims = 26
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dims)
		for _, r := range strings.ToLower(t) {
			if r >= 'a' && r <= 'z' {
				v[int(r-'a')%dims]++
			} else if unicode.IsDigit(r) {
				v[0] += 0.5
			}
		}
		out[i] = v
	}
	return out, nil
}

// faultyStore wraps blobstore.Memory with injectable failures.
type faultyStore struct {
	*blobstore.Memory
	puts    atomic.Int32
	putErr  error
	getErr  error
	blockOn bool
}

func newFaultyStore() *faultyStore { return &faultyStore{Memory: blobstore.NewMemory()} }

func (s *faultyStore) Put(ctx context.Context, data []byte) (rag.Handle, error) {
	s.puts.Add(1)
	if s.blockOn {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.putErr != nil {
		return "", s.putErr
	}
	return s.Memory.Put(ctx, data)
}

func (s *faultyStore) Get(ctx context.Context, h rag.Handle) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Memory.Get(ctx, h)
}

// mapRegistry is an in-memory rag.Registry keeping the latest version.
type mapRegistry struct {
	mu        sync.Mutex
	regs      map[string]rag.Registration
	writes    int
	writeErr  error
	lastCreds rag.Credentials
}

func newMapRegistry() *mapRegistry { return &mapRegistry{regs: make(map[string]rag.Registration)} }

func (r *mapRegistry) Register(_ context.Context, reg rag.Registration, creds rag.Credentials) (*rag.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return nil, r.writeErr
	}
	r.writes++
	r.lastCreds = creds
	r.regs[reg.ManualID] = reg
	return &rag.Receipt{TxHash: fmt.Sprintf("0x%02x", r.writes), Block: uint64(r.writes)}, nil
}

func (r *mapRegistry) Resolve(_ context.Context, manualID, _ string) (*rag.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[manualID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", rag.ErrManualNotFound, manualID)
	}
	return &reg, nil
}

func (r *mapRegistry) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// recordingCompleter records its prompts and returns a fixed reply.
type recordingCompleter struct {
	system, user string
	reply        string
	err          error
}

func (c *recordingCompleter) Complete(_ context.Context, system, user string) (string, error) {
	c.system, c.user = system, user
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

// recordingMirror records mirrored registrations.
type recordingMirror struct {
	mu       sync.Mutex
	regs     []rag.Registration
	passages int
	err      error
}

func (m *recordingMirror) Mirror(_ context.Context, reg rag.Registration, passages []rag.Passage, _ [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.regs = append(m.regs, reg)
	m.passages += len(passages)
	return nil
}

var errNetwork = errors.New("connection reset by peer")
