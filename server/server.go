// Package server exposes download sessions over a small JSON HTTP API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"vidfetch/internal"
	"vidfetch/session"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 30 * time.Second
)

// Deps are the components the handlers work with
type Deps struct {
	Resolver     internal.Resolver
	Orchestrator *session.Orchestrator
	Progress     *session.ProgressStore
	Registry     *session.ArtifactRegistry
	Gate         *session.DeliveryGate
}

// Server is the HTTP front end. It holds no session state of its own.
type Server struct {
	cfg  *internal.Config
	deps Deps
}

// New creates a server
func New(cfg *internal.Config, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps}
}

// Handler returns the routed handler wrapped in middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/info", s.handleInfo)
	mux.HandleFunc("POST /api/download", s.handleDownload)
	mux.HandleFunc("DELETE /api/download/{id}", s.handleCancel)
	mux.HandleFunc("GET /api/progress/{id}", s.handleProgress)
	mux.HandleFunc("GET /api/file/{id}", s.handleFile)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	return recoverer(logRequests(cors(s.cfg.AllowedOrigins, mux)))
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully. In-flight file transfers get shutdownTimeout to finish.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		internal.LogInfo("Listening on %s", listener.Addr())
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	internal.LogInfo("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
