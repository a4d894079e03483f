// Package api exposes ModFlow's operational HTTP surface: a health probe,
// the open report queue, and Prometheus metrics. It is read-only; all
// moderation happens through the chat platform.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/modflow/ModFlow/internal/metrics"
	"github.com/modflow/ModFlow/internal/store"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server serves the operational endpoints.
type Server struct {
	addr    string
	archive store.Store
	httpSrv *http.Server
}

// NewServer creates an API server backed by the report archive.
func NewServer(archive store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{addr: cfg.Addr, archive: archive}
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/reports", s.reportsHandler)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start runs the server in the background until the context ends.
func (s *Server) Start(ctx context.Context) {
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.Handler()}
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("API server shutdown failed", "error", err)
		}
	}()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	writeJSONResponse(w, http.StatusOK, statusResponse{Status: "ok"})
}

// reportsHandler lists the open reports from the archive.
func (s *Server) reportsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	reports, err := s.archive.ListOpenReports()
	if err != nil {
		slog.Error("Server.reportsHandler: failed to list open reports", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse{Error: "failed to list reports"})
		return
	}
	if reports == nil {
		reports = []store.ReportRecord{}
	}
	writeJSONResponse(w, http.StatusOK, reports)
}
