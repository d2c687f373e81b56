package ingestion

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ErrNoManualID is returned by InferManualID when the source has no usable name.
var ErrNoManualID = errors.New("cannot infer manual id")

// InferManualID derives a manual id from a file or URL source when the
// caller did not pass one: the base name without extension, lowercased,
// with runs of characters outside [a-z0-9._-] collapsed to "-".
//
//	./manuals/Router X1.txt                  -> router-x1
//	https://example.com/docs/printer-200.md  -> printer-200
//
// Reader sources have no name and return ErrNoManualID.
func InferManualID(src Source) (string, error) {
	var base string
	switch {
	case src.Path != "":
		base = filepath.Base(src.Path)
	case src.URL != "":
		u, err := url.Parse(src.URL)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoManualID, err)
		}
		base = path.Base(strings.TrimRight(u.Path, "/"))
		if base == "." || base == "/" || base == "" {
			if id := slug(u.Hostname()); id != "" {
				return id, nil
			}
			return "", fmt.Errorf("%w from %q", ErrNoManualID, src)
		}
	default:
		return "", ErrNoManualID
	}

	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	id := slug(base)
	if id == "" {
		return "", fmt.Errorf("%w from %q", ErrNoManualID, src)
	}
	return id, nil
}

// slug lowercases s and collapses disallowed runes into single dashes.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.Trim(b.String(), "-.")
}
