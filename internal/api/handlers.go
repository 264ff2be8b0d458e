package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goodtune/basetrack/internal/presence"
	"github.com/gorilla/mux"
)

const maxEventBytes = 64 << 10

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// TotalResponse is the weekly total of one user.
type TotalResponse struct {
	UserID    string `json:"userId"`
	TotalMs   int64  `json:"totalMs"`
	Formatted string `json:"formatted"`
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	TotalMs     int64  `json:"totalMs"`
	Formatted   string `json:"formatted"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// mutationStatus maps a failed mutation to a status code.
func mutationStatus(err error) int {
	if errors.Is(err, presence.ErrPersist) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// userIDVar returns the decoded {userID} path variable.
func userIDVar(r *http.Request) (string, error) {
	userID, err := url.PathUnescape(mux.Vars(r)["userID"])
	if err != nil {
		return "", fmt.Errorf("invalid user ID: %w", err)
	}
	return userID, nil
}

// transitionRequest is the ingest body. An omitted "now" is stamped with the
// server clock; an explicit 0 is kept.
type transitionRequest struct {
	presence.TransitionEvent
	Now *int64 `json:"now"`
}

// queryInt64 parses an optional integer query parameter.
func queryInt64(r *http.Request, name string, fallback int64) (int64, error) {
	query := r.URL.Query()
	if !query.Has(name) {
		return fallback, nil
	}
	raw := query.Get(name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

// handleTransition applies one channel transition event.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxEventBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transition event")
		return
	}

	event := req.TransitionEvent
	if req.Now != nil {
		event.Now = *req.Now
	} else {
		event.Now = s.tracker.Now()
	}

	result, err := s.tracker.HandleTransition(r.Context(), event)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", event.UserID).Msg("Failed to apply transition")
		writeError(w, mutationStatus(err), "Transition not applied")
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// handleTotal returns the weekly total of a user, including an open session.
func (s *Server) handleTotal(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now, err := queryInt64(r, "now", s.tracker.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	total, err := s.tracker.GetTotal(r.Context(), userID, now)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("State unavailable, reporting zero total")
		total = 0
	}

	writeJSON(w, http.StatusOK, TotalResponse{
		UserID:    userID,
		TotalMs:   total,
		Formatted: presence.FormatDuration(total),
	})
}

// handleLeaderboard returns the weekly ranking.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt64(r, "n", presence.DefaultLeaderboardSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	top, err := s.tracker.GetTop(r.Context(), int(n))
	if err != nil {
		s.logger.Warn().Err(err).Msg("State unavailable, reporting empty leaderboard")
	}

	entries := make([]LeaderboardEntry, 0, len(top))
	for i, record := range top {
		entries = append(entries, LeaderboardEntry{
			Rank:        i + 1,
			UserID:      record.UserID,
			DisplayName: record.DisplayName,
			TotalMs:     record.TotalMs,
			Formatted:   presence.FormatHoursMinutes(record.TotalMs),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleExport returns the weekly totals as a CSV attachment.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	rows, err := s.tracker.Export(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("State unavailable, exporting empty report")
		rows = nil
	}

	var buf bytes.Buffer
	if err := presence.WriteCSV(&buf, rows); err != nil {
		s.logger.Error().Err(err).Msg("Failed to render export")
		writeError(w, http.StatusInternalServerError, "Failed to render export")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", presence.ExportFileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleForceClose closes a user's open session early.
func (s *Server) handleForceClose(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now, err := queryInt64(r, "now", s.tracker.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	total, err := s.tracker.ForceCloseSession(r.Context(), userID, now)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to close session")
		writeError(w, mutationStatus(err), "Session not closed")
		return
	}

	writeJSON(w, http.StatusOK, TotalResponse{
		UserID:    userID,
		TotalMs:   total,
		Formatted: presence.FormatDuration(total),
	})
}

// handleReset clears the weekly history.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.ResetWeek(r.Context()); err != nil {
		writeError(w, mutationStatus(err), "Weekly reset failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
