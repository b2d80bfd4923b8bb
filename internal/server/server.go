// Package server exposes the analysis pipeline over a JSON HTTP API:
// drawing OCR with method selection, text extraction, translation,
// steel lookup and Mail.ru Cloud folder access. Handlers are thin
// shells over chain.Service; every request carries a correlation id
// and a client disconnect cancels the run it started.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/retro-lab/drawing-analyzer/constants"
	"github.com/retro-lab/drawing-analyzer/internal/chain"
	"github.com/retro-lab/drawing-analyzer/internal/cloud"
	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

// statusClientClosedRequest mirrors the nginx convention for a request
// abandoned by its client.
const statusClientClosedRequest = 499

// Pipeline is the slice of chain.Service the handlers call.
type Pipeline interface {
	Run(ctx context.Context, kind constants.TaskKind, in extract.Input, onProgress func(chain.Entry)) (chain.Outcome, error)
	AnalyzeDrawing(ctx context.Context, req chain.DrawingRequest, onProgress func(chain.Entry)) (chain.Analysis, error)
	OCRAvailable() bool
	TranslationAvailable() bool
}

type Server struct {
	log       *slog.Logger
	svc       Pipeline
	cloud     *cloud.Client
	cfg       common.ServerConfig
	languages string
	maxFiles  int
}

// New builds the API server. languages is the default OCR language
// string ("rus+eng" style) applied when an upload names none.
func New(svc Pipeline, cloudClient *cloud.Client, cfg *common.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		log:       logger.With("component", "server"),
		svc:       svc,
		cloud:     cloudClient,
		cfg:       cfg.Server,
		languages: cfg.Tesseract.Languages,
		maxFiles:  cfg.Cloud.MaxFiles,
	}
}

// Handler returns the routed API surface wrapped in the request-id and
// access-log middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/ocr/process", s.handleOCR)
	mux.HandleFunc("POST /api/translate", s.handleTranslate)
	mux.HandleFunc("POST /api/extract", s.handleExtract)
	mux.HandleFunc("POST /api/steel", s.handleSteel)
	mux.HandleFunc("POST /api/cloud/folder", s.handleCloudFolder)
	mux.HandleFunc("POST /api/cloud/file", s.handleCloudFile)
	return s.instrument(mux)
}

// instrument assigns each request an id, threads it through the
// context for provider calls and the progress trail, and writes one
// access log line per request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := common.NewRequestID()
		ctx := common.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		s.log.Info("server.request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Class   string `json:"class,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("server.encode_failed", "err", err)
	}
}

// fail writes a taxonomy-classed error body. Wrapped vendor error text
// stays in logs and the progress trail; the client sees the class and
// the stable reason.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	class := common.ClassOf(err)
	s.log.Warn("server.request_failed",
		"request_id", common.RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"class", string(class),
		"err", err,
	)
	s.respond(w, status, errorResponse{Error: failureMessage(err), Class: string(class)})
}

func httpStatus(err error) int {
	switch common.ClassOf(err) {
	case common.FailureInvalidInput:
		return http.StatusBadRequest
	case common.FailureCancelled:
		return statusClientClosedRequest
	case common.FailureTransient, common.FailureExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func failureMessage(err error) string {
	f, ok := common.AsFailure(err)
	if !ok {
		return err.Error()
	}
	if f.Provider != "" {
		return fmt.Sprintf("%s: %s", f.Provider, f.Reason)
	}
	return f.Reason
}

// decodeJSON reads a request body into dst. Oversized or malformed
// bodies are caller errors.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return common.InvalidInput("malformed json body")
	}
	return nil
}
