package storage

import (
	"sort"
)

// Session is an open presence interval inside the monitored channels.
type Session struct {
	UserID    string `json:"userId"`
	StartedAt int64  `json:"startedAt"` // milliseconds since epoch
}

// HistoryRecord is the flushed presence time of a user for the current week.
type HistoryRecord struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	TotalMs     int64  `json:"totalAccumulatedMs"`
}

// State holds the active sessions and the weekly history.
// History keeps the order in which users were first flushed.
type State struct {
	active  map[string]Session
	history []HistoryRecord
	index   map[string]int
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		active:  make(map[string]Session),
		history: make([]HistoryRecord, 0),
		index:   make(map[string]int),
	}
}

// ActiveSession returns the open session for a user, if any.
func (s *State) ActiveSession(userID string) (Session, bool) {
	session, ok := s.active[userID]
	return session, ok
}

// SetActive stores an open session, replacing any previous one for the user.
func (s *State) SetActive(session Session) {
	s.active[session.UserID] = session
}

// DeleteActive removes the open session of a user and reports whether one existed.
func (s *State) DeleteActive(userID string) bool {
	if _, ok := s.active[userID]; !ok {
		return false
	}
	delete(s.active, userID)
	return true
}

// ActiveSessions returns all open sessions ordered by user ID.
func (s *State) ActiveSessions() []Session {
	sessions := make([]Session, 0, len(s.active))
	for _, session := range s.active {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UserID < sessions[j].UserID
	})
	return sessions
}

// ActiveCount returns the number of open sessions.
func (s *State) ActiveCount() int {
	return len(s.active)
}

// Record returns the history record of a user, if any.
func (s *State) Record(userID string) (HistoryRecord, bool) {
	i, ok := s.index[userID]
	if !ok {
		return HistoryRecord{}, false
	}
	return s.history[i], true
}

// History returns a copy of the history records in insertion order.
func (s *State) History() []HistoryRecord {
	records := make([]HistoryRecord, len(s.history))
	copy(records, s.history)
	return records
}

// HistoryLen returns the number of history records.
func (s *State) HistoryLen() int {
	return len(s.history)
}

// PutRecord stores a record as-is. An existing record keeps its position.
func (s *State) PutRecord(record HistoryRecord) {
	if i, ok := s.index[record.UserID]; ok {
		s.history[i] = record
		return
	}
	s.index[record.UserID] = len(s.history)
	s.history = append(s.history, record)
}

// AddToHistory adds deltaMs to a user's total, creating the record with
// displayName when absent. The stored display name is never refreshed.
func (s *State) AddToHistory(userID, displayName string, deltaMs int64) HistoryRecord {
	if i, ok := s.index[userID]; ok {
		s.history[i].TotalMs += deltaMs
		return s.history[i]
	}
	record := HistoryRecord{UserID: userID, DisplayName: displayName, TotalMs: deltaMs}
	s.PutRecord(record)
	return record
}

// ClearHistory drops every history record and leaves sessions untouched.
func (s *State) ClearHistory() {
	s.history = make([]HistoryRecord, 0)
	s.index = make(map[string]int)
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	clone := &State{
		active:  make(map[string]Session, len(s.active)),
		history: make([]HistoryRecord, len(s.history)),
		index:   make(map[string]int, len(s.index)),
	}
	for id, session := range s.active {
		clone.active[id] = session
	}
	copy(clone.history, s.history)
	for id, i := range s.index {
		clone.index[id] = i
	}
	return clone
}

// Equal reports whether both states hold the same sessions and the same
// history in the same order.
func (s *State) Equal(other *State) bool {
	if other == nil {
		return false
	}
	if len(s.active) != len(other.active) || len(s.history) != len(other.history) {
		return false
	}
	for id, session := range s.active {
		if other.active[id] != session {
			return false
		}
	}
	for i := range s.history {
		if s.history[i] != other.history[i] {
			return false
		}
	}
	return true
}
