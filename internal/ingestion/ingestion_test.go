package ingestion

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/manualrag-go/internal/rag"
)

const manual = "Reset the router. Update the firmware."

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "router.txt")
	require.NoError(t, os.WriteFile(path, []byte(manual), 0o600))

	got, err := NewLoader(nil).Load(t.Context(), Source{Path: path})

	require.NoError(t, err)
	assert.Equal(t, manual, got)
}

func TestLoad_Reader(t *testing.T) {
	t.Parallel()

	got, err := NewLoader(nil).Load(t.Context(), Source{Reader: strings.NewReader(manual)})

	require.NoError(t, err)
	assert.Equal(t, manual, got)
}

func TestLoad_URL(t *testing.T) {
	t.Parallel()

	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/router.txt":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(manual))
		case "/router.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	l := NewLoader(&Config{UserAgent: "manualrag-test"})

	got, err := l.Load(t.Context(), Source{URL: srv.URL + "/router.txt"})
	require.NoError(t, err)
	assert.Equal(t, manual, got)
	assert.Equal(t, "manualrag-test", agent)

	_, err = l.Load(t.Context(), Source{URL: srv.URL + "/router.pdf"})
	require.ErrorIs(t, err, rag.ErrInvalidInput)

	_, err = l.Load(t.Context(), Source{URL: srv.URL + "/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestLoad_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  *Config
		src  Source
	}{
		{"no source", nil, Source{}},
		{"two sources", nil, Source{Path: "a.txt", Reader: strings.NewReader("x")}},
		{"too large", &Config{MaxBytes: 8}, Source{Reader: strings.NewReader(manual)}},
		{"invalid utf-8", nil, Source{Reader: strings.NewReader("bad \xff byte")}},
		{"non-http url", nil, Source{URL: "file:///etc/passwd"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewLoader(tc.cfg).Load(t.Context(), tc.src)
			assert.ErrorIs(t, err, rag.ErrInvalidInput)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewLoader(nil).Load(t.Context(), Source{Path: filepath.Join(t.TempDir(), "nope.txt")})

	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestInferManualID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		src  Source
		want string
	}{
		{Source{Path: "./manuals/Router X1.txt"}, "router-x1"},
		{Source{Path: "/tmp/printer_200.md"}, "printer_200"},
		{Source{Path: "dishwasher"}, "dishwasher"},
		{Source{URL: "https://example.com/docs/printer-200.md"}, "printer-200"},
		{Source{URL: "https://example.com/docs/Fridge--Manual/"}, "fridge-manual"},
		{Source{URL: "https://manuals.example.com"}, "manuals.example.com"},
	}
	for _, tc := range cases {
		got, err := InferManualID(tc.src)
		if assert.NoError(t, err, tc.src.String()) {
			assert.Equal(t, tc.want, got, tc.src.String())
		}
	}

	_, err := InferManualID(Source{Reader: strings.NewReader(manual)})
	assert.ErrorIs(t, err, ErrNoManualID)

	_, err = InferManualID(Source{Path: "/tmp/+++.txt"})
	assert.ErrorIs(t, err, ErrNoManualID)
}
