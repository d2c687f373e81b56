// Package blobstore implements rag.BlobStore: an IPFS (Kubo HTTP API)
// client for production, an in-memory store for tests and local runs, and a
// read-through cache that keeps immutable blobs in Redis.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/54b3r/manualrag-go/internal/bundle"
	"github.com/54b3r/manualrag-go/internal/rag"
)

// DefaultIPFSEndpoint is the Kubo RPC address of a local node.
const DefaultIPFSEndpoint = "http://127.0.0.1:5001"

// defaultIPFSTimeout bounds each RPC at the HTTP client level. Put cannot
// pass its context to the shell, so this is what ends an abandoned /add.
const defaultIPFSTimeout = 2 * time.Minute

// maxBlobSize bounds the bytes read back from /cat.
const maxBlobSize = 256 << 20

// IPFSConfig holds connection settings for an IPFS node.
type IPFSConfig struct {
	// Endpoint is the Kubo RPC address, with or without the /api/v0 suffix
	// (default: DefaultIPFSEndpoint).
	Endpoint string
	// Unpinned disables pinning of added blobs. Blobs are pinned by default.
	Unpinned bool
	// Timeout bounds each RPC (default: 2m). Ignored when HTTPClient is set.
	Timeout time.Duration
	// HTTPClient overrides the client the shell uses. Optional.
	HTTPClient *http.Client
}

// IPFS is a rag.BlobStore backed by a go-ipfs-api shell.
// It is safe for concurrent use.
type IPFS struct {
	// sh talks to the node's RPC API.
	sh *shell.Shell
	// pin is sent as the pin option on /add.
	pin bool
}

// NewIPFS constructs an IPFS store. A nil cfg uses defaults.
func NewIPFS(cfg *IPFSConfig) *IPFS {
	if cfg == nil {
		cfg = &IPFSConfig{}
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	endpoint = strings.TrimSuffix(endpoint, "/api/v0")
	if endpoint == "" {
		endpoint = DefaultIPFSEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultIPFSTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &IPFS{sh: shell.NewShellWithClient(endpoint, client), pin: !cfg.Unpinned}
}

// Put adds data as a single file and returns its CID.
func (s *IPFS) Put(ctx context.Context, data []byte) (rag.Handle, error) {
	type added struct {
		cid string
		err error
	}
	done := make(chan added, 1)
	go func() {
		cid, err := s.sh.Add(bytes.NewReader(data), shell.Pin(s.pin))
		done <- added{cid, err}
	}()

	var res added
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: ipfs: add: %w", rag.ErrStorage, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return "", fmt.Errorf("%w: ipfs: add: %w", rag.ErrStorage, res.err)
	}
	h, err := bundle.ParseHandle(res.cid)
	if err != nil {
		return "", fmt.Errorf("%w: ipfs: add: %w", rag.ErrStorage, err)
	}
	return h, nil
}

// Get returns the bytes stored under h via /cat.
func (s *IPFS) Get(ctx context.Context, h rag.Handle) ([]byte, error) {
	if _, err := bundle.ParseHandle(string(h)); err != nil {
		return nil, fmt.Errorf("%w: ipfs: cat: %w", rag.ErrStorage, err)
	}

	resp, err := s.sh.Request("cat", string(h)).Send(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: ipfs: cat %s: %w", rag.ErrStorage, h, err)
	}
	defer resp.Close()
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: ipfs: cat %s: %w", rag.ErrStorage, h, resp.Error)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Output, maxBlobSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: ipfs: cat %s: %w", rag.ErrStorage, h, err)
	}
	if len(data) > maxBlobSize {
		return nil, fmt.Errorf("%w: ipfs: cat %s: blob exceeds %d bytes", rag.ErrStorage, h, maxBlobSize)
	}
	return data, nil
}

// Name returns the dependency label used in readiness responses.
func (s *IPFS) Name() string { return "ipfs" }

// Ping calls /id, which any reachable node answers.
func (s *IPFS) Ping(ctx context.Context) error {
	var out shell.IdOutput
	if err := s.sh.Request("id").Exec(ctx, &out); err != nil {
		return fmt.Errorf("%w: ipfs: id: %w", rag.ErrStorage, err)
	}
	if out.ID == "" {
		return fmt.Errorf("%w: ipfs: id: %w", rag.ErrStorage, errors.New("node returned no peer id"))
	}
	return nil
}
