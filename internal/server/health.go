package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/manualrag-go/internal/logging"
)

// probeTimeout bounds each dependency probe.
const probeTimeout = 5 * time.Second

// Pinger reports whether one backing service (blob store, cache, registry,
// mirror, embedder, chat model) is reachable. Safe for concurrent use.
type Pinger interface {
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness output, e.g. "ipfs".
	Name() string
}

// probe pings p under probeTimeout.
func probe(ctx context.Context, p Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return p.Ping(ctx)
}

// MultiPinger is a Pinger over a list of dependencies; it reports the first
// one, in list order, that fails. serve uses it as a startup preflight.
type MultiPinger struct {
	pingers []Pinger
}

// NewMultiPinger groups pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping implements Pinger.
func (m *MultiPinger) Ping(ctx context.Context) error {
	for _, p := range m.pingers {
		if err := probe(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}

// Name implements Pinger.
func (m *MultiPinger) Name() string { return "multi" }

type readyCheck struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady probes every dependency concurrently and answers 503 unless
// all of them respond. Checks keep the order the pingers were configured in.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := make([]readyCheck, len(s.pingers))
	var g errgroup.Group
	for i, p := range s.pingers {
		g.Go(func() error {
			checks[i] = readyCheck{Name: p.Name(), OK: true}
			if err := probe(r.Context(), p); err != nil {
				checks[i].OK = false
				checks[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := readyResponse{Ready: true, Checks: checks}
	for _, c := range checks {
		if !c.OK {
			resp.Ready = false
			log.Warn("readiness probe failed",
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
			)
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}
