package metrics

import (
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Tracking metrics
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basetrack_transitions_total",
			Help: "Channel transition events processed, by resulting action",
		},
		[]string{"action"},
	)

	SessionsFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "basetrack_sessions_flushed_total",
			Help: "Sessions closed and added to the weekly history",
		},
	)

	AccumulatedSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "basetrack_accumulated_seconds_total",
			Help: "Presence seconds added to the weekly history",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "basetrack_active_sessions",
			Help: "Number of open presence sessions",
		},
	)

	HistoryEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "basetrack_history_entries",
			Help: "Number of users with time in the current week",
		},
	)

	// Storage metrics
	PersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "basetrack_persist_failures_total",
			Help: "State writes that failed and were rolled back",
		},
	)

	PersistDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "basetrack_persist_duration_seconds",
			Help:    "Time spent writing the state to the storage backend",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Reset metrics
	WeeklyResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basetrack_weekly_resets_total",
			Help: "Weekly reset attempts, by result",
		},
		[]string{"result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basetrack_api_requests_total",
			Help: "API requests handled, by route and status code",
		},
		[]string{"route", "code"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		TransitionsTotal,
		SessionsFlushed,
		AccumulatedSeconds,
		ActiveSessions,
		HistoryEntries,
		PersistFailures,
		PersistDuration,
		WeeklyResets,
		APIRequestsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the HTTP handler serving /metrics and /health
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start binds the listen address, unless a listener was set, and serves
// metrics in the background.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")

	if s.listener != nil {
		s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
	} else {
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
		}
		s.listener = ln
	}

	go func(ln net.Listener) {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
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

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
