// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api is caronte's HTTP/JSON surface (spec §6): rule CRUD,
// filtered connection listing, the Stream Reader, and the PCAP session
// endpoints, served over a single net/http.ServeMux.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caronte-ctf/caronte/internal/logging"
	"github.com/caronte-ctf/caronte/internal/pcapsession"
	"github.com/caronte-ctf/caronte/internal/rules"
	"github.com/caronte-ctf/caronte/internal/store"
	"github.com/caronte-ctf/caronte/internal/streamreader"
)

// ServerConfig holds HTTP server hardening parameters.
// Mitigation: OWASP A05:2021-Security Misconfiguration
type ServerConfig struct {
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration // Body read limit
	WriteTimeout      time.Duration // Response timeout
	IdleTimeout       time.Duration // Keep-alive timeout
	MaxHeaderBytes    int           // Header size limit
	MaxBodyBytes      int64         // Request body size limit (non-upload routes)
}

// DefaultServerConfig returns secure default server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute, // PCAP ingestion can run long
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      10 << 20,
	}
}

// Server handles every caronte API request.
type Server struct {
	cfg        *ServerConfig
	st         *store.Store
	registry   *rules.Registry
	reader     *streamreader.Reader
	sessions   *pcapsession.Manager
	logger     *logging.Logger
	registerer prometheus.Registerer

	mux *http.ServeMux
}

// ServerOptions holds the dependencies a Server is built from.
type ServerOptions struct {
	Config     *ServerConfig
	Store      *store.Store
	Registry   *rules.Registry
	Reader     *streamreader.Reader
	Sessions   *pcapsession.Manager
	Logger     *logging.Logger
	Registerer prometheus.Registerer // optional; nil disables /metrics
}

// NewServer builds a Server and wires its routes.
func NewServer(opts ServerOptions) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default("api")
	}

	s := &Server{
		cfg:        cfg,
		st:         opts.Store,
		registry:   opts.Registry,
		reader:     opts.Reader,
		sessions:   opts.Sessions,
		logger:     logger,
		registerer: opts.Registerer,
	}
	s.initRoutes()
	return s, nil
}

// Handler returns the server's composed http.Handler.
func (s *Server) Handler() http.Handler { return s.mux }

// initRoutes initializes the HTTP router.
func (s *Server) initRoutes() {
	mux := http.NewServeMux()
	s.mux = mux

	mux.HandleFunc("POST /setup", s.handleSetup)

	mux.HandleFunc("GET /api/rules", s.handleListRules)
	mux.HandleFunc("POST /api/rules", s.handleCreateRule)
	mux.HandleFunc("PUT /api/rules/{id}", s.handleUpdateRule)

	mux.HandleFunc("GET /api/connections", s.handleListConnections)
	mux.HandleFunc("GET /api/connections/{id}", s.handleGetConnection)
	mux.HandleFunc("PATCH /api/connections/{id}", s.handleUpdateConnectionFlags)

	mux.HandleFunc("GET /api/streams/{connection_id}", s.handleStream)

	mux.HandleFunc("GET /api/pcap/sessions", s.handleListPcapSessions)
	mux.HandleFunc("POST /api/pcap/upload", s.handleUploadPcap)
	mux.HandleFunc("POST /api/pcap/file", s.handlePcapFile)
	mux.HandleFunc("GET /api/pcap/sessions/{id}/download", s.handleDownloadPcap)

	if s.registerer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	}
}

// Start serves the API on addr until ctx is cancelled or Serve fails.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	return s.wait(ctx, srv, errCh)
}

// Serve is Start but over a caller-supplied listener, used to serve the
// API over a tailnet (internal/tsnet) instead of a bare host listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	return s.wait(ctx, srv, errCh)
}

func (s *Server) wait(ctx context.Context, srv *http.Server, errCh <-chan error) error {
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
