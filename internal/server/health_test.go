package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct {
	name string
	err  error
}

func (f *fakePinger) Name() string               { return f.name }
func (f *fakePinger) Ping(context.Context) error { return f.err }

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	newTestServer().handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := w.Body.String(); got != "{\"status\":\"ok\"}\n" {
		t.Errorf("body = %q", got)
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	down := errors.New("connection refused")
	cases := []struct {
		name      string
		pingers   []Pinger
		wantCode  int
		wantReady bool
		wantOK    []bool
	}{
		{
			name:      "no dependencies",
			wantCode:  http.StatusOK,
			wantReady: true,
			wantOK:    []bool{},
		},
		{
			name:      "all reachable",
			pingers:   []Pinger{&fakePinger{name: "ipfs"}, &fakePinger{name: "registry"}},
			wantCode:  http.StatusOK,
			wantReady: true,
			wantOK:    []bool{true, true},
		},
		{
			name:      "registry down",
			pingers:   []Pinger{&fakePinger{name: "ipfs"}, &fakePinger{name: "registry", err: down}, &fakePinger{name: "qdrant"}},
			wantCode:  http.StatusServiceUnavailable,
			wantOK:    []bool{true, false, true},
		},
		{
			name:      "everything down",
			pingers:   []Pinger{&fakePinger{name: "ipfs", err: down}, &fakePinger{name: "ollama-embed", err: down}},
			wantCode:  http.StatusServiceUnavailable,
			wantOK:    []bool{false, false},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer()
			s.pingers = tc.pingers
			w := httptest.NewRecorder()
			s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.wantCode, w.Body.String())
			}
			var resp readyResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Ready != tc.wantReady {
				t.Errorf("ready = %v, want %v", resp.Ready, tc.wantReady)
			}
			if resp.Checks == nil || len(resp.Checks) != len(tc.wantOK) {
				t.Fatalf("checks = %+v", resp.Checks)
			}
			for i, c := range resp.Checks {
				if c.Name != tc.pingers[i].Name() {
					t.Errorf("check %d name = %q, want %q", i, c.Name, tc.pingers[i].Name())
				}
				if c.OK != tc.wantOK[i] {
					t.Errorf("check %q ok = %v", c.Name, c.OK)
				}
				if !c.OK && c.Error != down.Error() {
					t.Errorf("check %q error = %q", c.Name, c.Error)
				}
			}
		})
	}
}

func TestMultiPinger_FirstFailureWins(t *testing.T) {
	t.Parallel()

	m := NewMultiPinger(
		&fakePinger{name: "ipfs"},
		&fakePinger{name: "registry", err: errors.New("dial tcp: refused")},
		&fakePinger{name: "qdrant", err: errors.New("unreachable")},
	)

	err := m.Ping(t.Context())
	if err == nil {
		t.Fatal("expected error from failing pinger")
	}
	if got := err.Error(); got != "registry: dial tcp: refused" {
		t.Errorf("unexpected error %q", got)
	}
	if NewMultiPinger().Ping(t.Context()) != nil {
		t.Error("empty MultiPinger must be healthy")
	}
}

// fakeHealthCheck implements provider.HealthCheckConfig.
type fakeHealthCheck struct{ err error }

func (f fakeHealthCheck) HealthCheck(context.Context) error { return f.err }

// fakeCompleter implements rag.Completer.
type fakeCompleter struct {
	calls int
	err   error
}

func (f *fakeCompleter) Complete(context.Context, string, string) (string, error) {
	f.calls++
	return "pong", f.err
}

func TestLLMPinger(t *testing.T) {
	t.Parallel()

	t.Run("health check preferred", func(t *testing.T) {
		c := &fakeCompleter{}
		p := NewLLMPinger(c, fakeHealthCheck{}, "ollama")
		if err := p.Ping(t.Context()); err != nil {
			t.Fatalf("ping: %v", err)
		}
		if c.calls != 0 {
			t.Errorf("completion used despite health check: %d calls", c.calls)
		}
	})

	t.Run("health check failure", func(t *testing.T) {
		p := NewLLMPinger(nil, fakeHealthCheck{err: errors.New("HTTP 401")}, "openai")
		if err := p.Ping(t.Context()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("completion fallback", func(t *testing.T) {
		c := &fakeCompleter{}
		p := NewLLMPinger(c, nil, "gemini")
		if err := p.Ping(t.Context()); err != nil {
			t.Fatalf("ping: %v", err)
		}
		if c.calls != 1 {
			t.Errorf("expected one completion, got %d", c.calls)
		}
		if p.Name() != "gemini" {
			t.Errorf("name: got %q", p.Name())
		}
	})

	t.Run("nothing to probe", func(t *testing.T) {
		p := NewLLMPinger(nil, nil, "ark")
		if err := p.Ping(t.Context()); err == nil {
			t.Fatal("expected error")
		}
	})
}
