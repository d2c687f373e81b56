package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/manualrag-go/internal/rag"
	"github.com/54b3r/manualrag-go/internal/retrieval"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Uploads wait for a mined transaction, so this is generous.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// RequestTimeout bounds a single pipeline operation (default: 5m).
	RequestTimeout time.Duration
	// MaxBodyBytes caps request bodies (default: 32 MiB).
	MaxBodyBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all /api/manuals routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Credentials sign registry writes made by uploads.
	Credentials rag.Credentials
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// pipeline is the interface the manual handlers call.
// *retrieval.Orchestrator satisfies it; tests inject a fake.
type pipeline interface {
	Upload(ctx context.Context, manualID, text string, creds rag.Credentials) (*retrieval.UploadResult, error)
	Query(ctx context.Context, manualID, queryText string, k int, caller string) ([]retrieval.Result, error)
	Ask(ctx context.Context, manualID, queryText string, k int, caller string) (*retrieval.AskResult, error)
}

// Server is the HTTP server in front of the retrieval pipeline.
type Server struct {
	// pipeline runs uploads and queries.
	pipeline pipeline
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the HTTP and per-endpoint Prometheus metrics.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// uploadRequest is the JSON body for POST /api/manuals/{id}.
type uploadRequest struct {
	// Text is the full manual text.
	Text string `json:"text"`
}

// queryRequest is the JSON body for the query and answer endpoints.
type queryRequest struct {
	// Query is the natural language question.
	Query string `json:"query"`
	// TopK is the number of passages to return. Zero uses the pipeline default.
	TopK int `json:"top_k,omitempty"`
}

// queryResponse is the JSON response for POST /api/manuals/{id}/query.
type queryResponse struct {
	ManualID string             `json:"manual_id"`
	Results  []retrieval.Result `json:"results"`
}

// errorResponse is the JSON body written for every failed pipeline call.
type errorResponse struct {
	// Error is the human-readable failure.
	Error string `json:"error"`
	// Stage names the pipeline step that failed, when known.
	Stage string `json:"stage,omitempty"`
	// Retryable tells the client whether repeating the request may help.
	Retryable bool `json:"retryable"`
}
