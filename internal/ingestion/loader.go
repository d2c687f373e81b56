// Package ingestion reads manual text from the sources the upload command
// accepts: a local file, an HTTP(S) URL, or an arbitrary reader (stdin).
// It does not chunk or embed; the retrieval package owns that.
package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/54b3r/manualrag-go/internal/rag"
	"github.com/54b3r/manualrag-go/internal/version"
)

// DefaultMaxBytes caps a single manual at 32 MiB.
const DefaultMaxBytes = 32 << 20

// Source describes where a manual comes from. Exactly one of Path, URL, or
// Reader must be set.
type Source struct {
	// Path is a local file path.
	Path string
	// URL is an HTTP(S) URL serving the manual as plain text.
	URL string
	// Reader supplies the manual directly (e.g. os.Stdin).
	Reader io.Reader
}

// String describes the source for logs.
func (s Source) String() string {
	switch {
	case s.Path != "":
		return s.Path
	case s.URL != "":
		return s.URL
	default:
		return "stdin"
	}
}

// Config holds the configuration for a Loader.
type Config struct {
	// MaxBytes caps the manual size. Defaults to DefaultMaxBytes if zero.
	MaxBytes int64

	// HTTPTimeout is the timeout for URL fetches. Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// UserAgent is the User-Agent header sent with URL fetches.
	UserAgent string
}

// Loader reads manual text from a Source.
type Loader struct {
	cfg        *Config
	httpClient *http.Client
}

// NewLoader constructs a Loader, filling defaults into cfg.
func NewLoader(cfg *Config) *Loader {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = version.UserAgent()
	}
	return &Loader{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Load returns the manual text of src. The text must be valid UTF-8 and no
// larger than MaxBytes; violations wrap rag.ErrInvalidInput.
func (l *Loader) Load(ctx context.Context, src Source) (string, error) {
	set := 0
	for _, ok := range []bool{src.Path != "", src.URL != "", src.Reader != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return "", fmt.Errorf("ingestion: %w: exactly one of file, url, or reader is required", rag.ErrInvalidInput)
	}

	var (
		data []byte
		err  error
	)
	switch {
	case src.Path != "":
		data, err = l.readFile(src.Path)
	case src.URL != "":
		data, err = l.fetch(ctx, src.URL)
	default:
		data, err = l.readAll(src.Reader)
	}
	if err != nil {
		return "", fmt.Errorf("ingestion: %s: %w", src, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("ingestion: %s: %w: manual is not valid UTF-8", src, rag.ErrInvalidInput)
	}
	return string(data), nil
}

func (l *Loader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return l.readAll(f)
}

// fetch retrieves the body of url. Only text responses are accepted.
func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("%w: url must be http or https", rag.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", l.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/markdown")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/") {
		return nil, fmt.Errorf("%w: unsupported content type %q", rag.ErrInvalidInput, ct)
	}
	return l.readAll(resp.Body)
}

// readAll reads r up to MaxBytes, failing rather than truncating.
func (l *Loader) readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading: %w", err)
	}
	if int64(len(data)) > l.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: manual exceeds %d bytes", rag.ErrInvalidInput, l.cfg.MaxBytes)
	}
	return data, nil
}
