package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/basetrack/internal/metrics"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ElevatedHeader carries the caller's assertion that the request comes from
// an elevated role. Deciding who may set it is left to the caller.
const ElevatedHeader = "X-Basetrack-Elevated"

// LoggingMiddleware logs each request and counts it by route and status.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create response writer wrapper to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(wrapped.statusCode)).Inc()

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Msg("API request")
		})
	}
}

// ElevatedMiddleware rejects requests that do not assert an elevated role.
func ElevatedMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.EqualFold(r.Header.Get(ElevatedHeader), "true") {
			writeError(w, http.StatusForbidden, "Elevated role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
