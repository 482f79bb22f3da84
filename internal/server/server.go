// Package server provides the HTTP surface of the curator: dataset
// inspection and deletion, remote capture sessions and live feeds.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/sampling"
	"github.com/ayusman/mudra/internal/server/api"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Curator   *app.Curator
	// SessionDefaults fills fields a start request leaves out.
	SessionDefaults sampling.Params
	CacheSize       int
	Logger          *slog.Logger
}

// Server represents the HTTP server for the curator.
type Server struct {
	config   Config
	mux      *http.ServeMux
	start    time.Time
	logger   *slog.Logger
	sessions *api.SessionHandler
	progress *ProgressHandler
	preview  *Preview
}

// New creates a new Server with the given configuration.
func New(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: logger.With("component", "server"),
	}
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() error {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if c := s.config.Curator; c != nil {
		datasets, err := api.NewDatasetHandler(c, s.config.CacheSize, s.config.Logger)
		if err != nil {
			return err
		}
		s.mux.HandleFunc("GET /api/datasets", datasets.List)
		s.mux.HandleFunc("DELETE /api/datasets", datasets.Delete)
		s.mux.HandleFunc("GET /api/datasets/{index}/report", datasets.Report)
		s.mux.HandleFunc("GET /api/datasets/{index}/frames/{frame}", datasets.Frame)

		s.sessions = api.NewSessionHandler(c, s.config.SessionDefaults, s.config.Logger)
		s.mux.HandleFunc("GET /api/sessions", s.sessions.List)
		s.mux.HandleFunc("POST /api/sessions", s.sessions.Start)
		s.mux.HandleFunc("GET /api/sessions/{id}", s.sessions.Get)
		s.mux.HandleFunc("POST /api/sessions/{id}/confirm", s.sessions.Confirm)
		s.mux.HandleFunc("DELETE /api/sessions/{id}", s.sessions.Cancel)

		s.progress = NewProgressHandler(s.config.Logger)
		c.RegisterProgressCallback(s.progress.Publish)
		s.mux.Handle("GET /api/sessions/progress", s.progress)

		s.preview = NewPreview(PreviewInterval)
		c.RegisterFrameCallback(s.preview.Update)
		s.mux.Handle("GET /api/stream", NewStreamHandler(s.preview))
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
	return nil
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Sessions returns the session handler, or nil without a curator.
func (s *Server) Sessions() *api.SessionHandler {
	return s.sessions
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}
	if c := s.config.Curator; c != nil {
		response["capture"] = c.CanCapture()
		if active := c.Active(); active != nil {
			response["active_session"] = active.ID()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then cancels
// running sessions and shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.sessions != nil {
		s.sessions.Shutdown()
	}
	if s.progress != nil {
		s.progress.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
