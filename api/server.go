// Package api provides the HTTP surface the mobile app talks to: credit
// balance and grants, question submission, and history.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/getanswer"
)

// maxImageBytes bounds a query request body.
const maxImageBytes = 12 << 20

// Server is the getanswer HTTP API server.
type Server struct {
	engine  *getanswer.Engine
	logger  *slog.Logger
	metrics http.Handler // nil = /metrics not mounted
	timeout time.Duration
}

// NewServer creates a new API server.
func NewServer(engine *getanswer.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, logger: logger, timeout: 2 * time.Minute}
}

// EnableMetrics mounts /metrics for g. A nil g serves the default registry.
func (s *Server) EnableMetrics(g prometheus.Gatherer) {
	if g == nil {
		s.metrics = promhttp.Handler()
		return
	}
	s.metrics = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SetRequestTimeout bounds each request. Queries cancelled by the timeout
// are refunded.
func (s *Server) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/credits", func(r chi.Router) {
			r.Get("/", s.handleBalance)
			r.Post("/", s.handleAddCredits)
			r.Get("/grants", s.handleListGrants)
			r.Post("/grants/{key}", s.handleGrant)
			r.Get("/transactions", s.handleTransactions)
		})

		r.Post("/queries", s.handleQuery)
		r.Post("/questions", s.handleQuestion)

		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.handleListHistory)
			r.Delete("/", s.handleClearHistory)
			r.Get("/{id}", s.handleGetHistory)
			r.Delete("/{id}", s.handleDeleteHistory)
		})
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, msg string, extra map[string]interface{}) {
	body := map[string]interface{}{
		"message": msg,
		"type":    code,
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, map[string]interface{}{"error": body})
}

// writeErr maps a service error to a status and writes it.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	var extra map[string]interface{}
	var perr *getanswer.PipelineError
	if errors.As(err, &perr) {
		extra = map[string]interface{}{
			"run_id":   perr.RunID.String(),
			"refunded": perr.Refunded,
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}

	writeError(w, status, code, err.Error(), extra)
}

// classify returns the HTTP status and error code for err.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, getanswer.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "insufficient_credits"
	case errors.Is(err, getanswer.ErrNoTextDetected):
		return http.StatusUnprocessableEntity, "no_text_detected"
	case errors.Is(err, getanswer.ErrInvalidInput),
		errors.Is(err, getanswer.ErrInvalidAmount),
		errors.Is(err, getanswer.ErrInvalidTransaction):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, getanswer.ErrGrantNotFound), errors.Is(err, getanswer.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, getanswer.ErrExtractionFailed):
		return http.StatusBadGateway, "extraction_failed"
	case errors.Is(err, getanswer.ErrInferenceFailed):
		return http.StatusBadGateway, "inference_failed"
	case errors.Is(err, getanswer.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable, "ledger_unavailable"
	case errors.Is(err, getanswer.ErrStorageUnavailable), errors.Is(err, getanswer.ErrPipelineClosed):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}
