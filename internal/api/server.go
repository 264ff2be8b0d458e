package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/basetrack/internal/presence"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Server is the HTTP API in front of the presence tracker.
type Server struct {
	tracker  *presence.Tracker
	server   *http.Server
	router   *mux.Router
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new API server.
func NewServer(addr string, tracker *presence.Tracker, logger zerolog.Logger) *Server {
	// User IDs are opaque and may contain '/', sent as %2F.
	router := mux.NewRouter().UseEncodedPath()

	s := &Server{
		tracker: tracker,
		router:  router,
		logger:  logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/transitions", s.handleTransition).Methods(http.MethodPost)
	v1.HandleFunc("/users/{userID}/total", s.handleTotal).Methods(http.MethodGet)
	v1.HandleFunc("/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	v1.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)

	elevated := v1.NewRoute().Subrouter()
	elevated.Use(ElevatedMiddleware)
	elevated.HandleFunc("/users/{userID}/close", s.handleForceClose).Methods(http.MethodPost)
	elevated.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start binds the listen address, unless a listener was set, and serves the
// API in the background.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")

	if s.listener != nil {
		s.logger.Debug().Msg("Using systemd socket-activated API listener")
	} else {
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
		}
		s.listener = ln
	}

	go func(ln net.Listener) {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}(s.listener)

	return nil
}

// Addr returns the address being served, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"monitored_channels": s.tracker.Channels().Len(),
	})
}
