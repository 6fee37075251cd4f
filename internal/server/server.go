// Package server exposes the agent over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ragagent/internal/agent"
	"ragagent/internal/domain"
)

const maxBodyBytes = 1 << 20

var tracer = otel.Tracer("ragagent/server")

// Answerer runs one agent turn.
type Answerer interface {
	Run(ctx context.Context, query string, history []domain.Message) (agent.Result, error)
}

// Server serves the ask API, health and metrics.
type Server struct {
	agent    Answerer
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// New creates a server. gatherer may be nil, in which case /metrics serves
// the default registry.
func New(a Answerer, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{agent: a, gatherer: gatherer, logger: logger}
}

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Query   string        `json:"query"`
	History []HistoryTurn `json:"history,omitempty"`
}

// HistoryTurn is one earlier chat message.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AskResponse is the body returned by POST /v1/ask.
type AskResponse struct {
	TurnID     string      `json:"turn_id"`
	Response   string      `json:"response"`
	Sources    []SourceRef `json:"sources"`
	Iterations int         `json:"iterations"`
	Fallback   bool        `json:"fallback,omitempty"`
}

// SourceRef is a cited document.
type SourceRef struct {
	URL   string `json:"url"`
	Pages []int  `json:"pages,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logging)
	r.Use(tracing)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	r.Post("/v1/ask", s.handleAsk)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return
	}

	history := make([]domain.Message, 0, len(req.History))
	for _, h := range req.History {
		history = append(history, domain.Message{Role: h.Role, Content: h.Content})
	}

	res, err := s.agent.Run(r.Context(), req.Query, history)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Info("ask cancelled", "turn_id", res.TurnID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "request cancelled"})
			return
		}
		s.logger.Error("ask failed", "turn_id", res.TurnID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	out := AskResponse{
		TurnID:     res.TurnID,
		Response:   res.Response,
		Sources:    make([]SourceRef, 0, len(res.Sources)),
		Iterations: res.Iterations,
		Fallback:   res.Fallback,
	}
	for _, src := range res.Sources {
		out.Sources = append(out.Sources, SourceRef{URL: src.URL, Pages: src.Pages})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the response status for logging and tracing.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "http.request",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
			span.SetAttributes(attribute.String("http.route", rctx.RoutePattern()))
		}
		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if rec.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}
