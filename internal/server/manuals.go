package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/manualrag-go/internal/logging"
	"github.com/54b3r/manualrag-go/internal/rag"
	"github.com/54b3r/manualrag-go/internal/retrieval"
)

// handleUpload handles POST /api/manuals/{id}. It registers the body text as
// the next version of the manual and returns the upload result.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	res, err := s.pipeline.Upload(ctx, r.PathValue("id"), req.Text, s.cfg.Credentials)
	if err != nil {
		s.writeError(w, r, "upload", err)
		return
	}
	s.metrics.observe("upload", "ok")
	writeJSON(w, r, http.StatusCreated, res)
}

// handleQuery handles POST /api/manuals/{id}/query and returns the ranked
// passages for the query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) || !validQuery(w, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	id := r.PathValue("id")
	results, err := s.pipeline.Query(ctx, id, req.Query, req.TopK, s.cfg.Credentials.Account)
	if err != nil {
		s.writeError(w, r, "query", err)
		return
	}
	s.metrics.observe("query", "ok")
	writeJSON(w, r, http.StatusOK, queryResponse{ManualID: id, Results: results})
}

// handleAnswer handles POST /api/manuals/{id}/answer: query, then one
// completion over the ranked passages.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) || !validQuery(w, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	res, err := s.pipeline.Ask(ctx, r.PathValue("id"), req.Query, req.TopK, s.cfg.Credentials.Account)
	if err != nil {
		s.writeError(w, r, "answer", err)
		return
	}
	s.metrics.observe("answer", "ok")
	writeJSON(w, r, http.StatusOK, res)
}

// decode reads a size-capped JSON body into v. It writes 400 or 413 and
// returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func validQuery(w http.ResponseWriter, req *queryRequest) bool {
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return false
	}
	if req.TopK < 0 {
		http.Error(w, "top_k must not be negative", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps a pipeline failure to a status code and JSON body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status := statusFor(err)
	resp := errorResponse{
		Error:     err.Error(),
		Stage:     string(retrieval.StageOf(err)),
		Retryable: retrieval.IsRetryable(err),
	}

	outcome := "error"
	switch status {
	case http.StatusGatewayTimeout:
		outcome = "timeout"
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		outcome = "rejected"
	}
	s.metrics.observe(endpoint, outcome)

	logging.FromContext(r.Context()).Warn("pipeline request failed",
		slog.String("endpoint", endpoint),
		slog.Int("status", status),
		slog.String("stage", resp.Stage),
		slog.Bool("retryable", resp.Retryable),
		slog.Any("error", err),
	)
	writeJSON(w, r, status, resp)
}

// statusFor picks the HTTP status for a pipeline error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrManualNotFound):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrBundleFormat),
		errors.Is(err, rag.ErrSchemaMismatch),
		errors.Is(err, rag.ErrDimensionMismatch),
		errors.Is(err, rag.ErrChunking):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case retrieval.IsRetryable(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}
