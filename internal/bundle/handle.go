package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/54b3r/manualrag-go/internal/rag"
)

// maxHandleLen bounds handles accepted from a registry. CIDv1 strings for
// sha2-256 are 59 characters; the bound leaves room for longer codecs.
const maxHandleLen = 128

// DigestPrefix marks handles computed locally by Digest.
const DigestPrefix = "sha256-"

// Digest returns the local content handle of data: DigestPrefix followed by
// the hex sha256.
func Digest(data []byte) rag.Handle {
	sum := sha256.Sum256(data)
	return rag.Handle(DigestPrefix + hex.EncodeToString(sum[:]))
}

// ParseHandle validates a handle read from a registry or a storage response.
// Handles are opaque, but they end up in URLs and cache keys, so only
// printable ASCII without separators is accepted.
func ParseHandle(s string) (rag.Handle, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty handle", rag.ErrBundleFormat)
	}
	if len(s) > maxHandleLen {
		return "", fmt.Errorf("%w: handle longer than %d bytes", rag.ErrBundleFormat, maxHandleLen)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c > '~' || strings.IndexByte("/?#&%\\\"'", c) >= 0 {
			return "", fmt.Errorf("%w: handle %q contains %q", rag.ErrBundleFormat, s, c)
		}
	}
	return rag.Handle(s), nil
}
