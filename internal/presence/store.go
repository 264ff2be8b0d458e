package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/basetrack/internal/metrics"
	"github.com/goodtune/basetrack/internal/storage"
	"github.com/rs/zerolog"
)

// ErrPersist is returned when a mutation could not be written to the backend.
// The in-memory state is left as it was before the mutation.
var ErrPersist = errors.New("presence: persist failed")

// Store serializes every access to the accumulation state.
// The state is loaded from the backend on first access and kept in memory;
// each mutation is written back before it becomes visible.
type Store struct {
	backend storage.StateStore
	logger  zerolog.Logger

	mu    sync.Mutex
	state *storage.State
}

// NewStore creates a store on top of a backend.
func NewStore(backend storage.StateStore, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger.With().Str("component", "presence-store").Logger(),
	}
}

// ensureLoaded loads the durable copy. Must be called with s.mu held.
// A missing or corrupt copy starts an empty state; any other backend error
// is returned and the load is retried on the next access.
func (s *Store) ensureLoaded(ctx context.Context) error {
	if s.state != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	state, err := s.backend.Load(ctx)
	switch {
	case err == nil:
		s.logger.Info().
			Int("active_sessions", state.ActiveCount()).
			Int("history_entries", state.HistoryLen()).
			Msg("Loaded presence state")
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info().Msg("No stored presence state, starting empty")
		state = storage.NewState()
	case errors.Is(err, storage.ErrCorrupt):
		s.logger.Warn().Err(err).Msg("Stored presence state is unreadable, starting empty")
		state = storage.NewState()
	default:
		return fmt.Errorf("load state: %w", err)
	}

	s.state = state
	s.updateGauges()
	return nil
}

// WithState runs fn on a working copy of the state under the store lock.
// fn reports whether it changed the copy; a changed copy is persisted and
// then replaces the current state. If fn fails or the write fails the copy
// is discarded.
func (s *Store) WithState(ctx context.Context, fn func(state *storage.State) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	working := s.state.Clone()
	changed, err := fn(working)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	start := time.Now()
	err = s.backend.Save(ctx, working)
	metrics.PersistDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PersistFailures.Inc()
		s.logger.Error().Err(err).Msg("Failed to persist presence state, mutation rolled back")
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	s.state = working
	s.updateGauges()
	return nil
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot(ctx context.Context) (*storage.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s.state.Clone(), nil
}

// GetActiveSession returns the open session of a user.
func (s *Store) GetActiveSession(ctx context.Context, userID string) (storage.Session, bool, error) {
	var (
		session storage.Session
		found   bool
	)
	err := s.WithState(ctx, func(state *storage.State) (bool, error) {
		session, found = state.ActiveSession(userID)
		return false, nil
	})
	return session, found, err
}

// SetActiveSession stores the open session of a user. A nil session removes it.
func (s *Store) SetActiveSession(ctx context.Context, userID string, session *storage.Session) error {
	return s.WithState(ctx, func(state *storage.State) (bool, error) {
		if session == nil {
			return state.DeleteActive(userID), nil
		}
		next := storage.Session{UserID: userID, StartedAt: session.StartedAt}
		if current, ok := state.ActiveSession(userID); ok && current == next {
			return false, nil
		}
		state.SetActive(next)
		return true, nil
	})
}

// GetHistory returns the weekly history record of a user.
func (s *Store) GetHistory(ctx context.Context, userID string) (storage.HistoryRecord, bool, error) {
	var (
		record storage.HistoryRecord
		found  bool
	)
	err := s.WithState(ctx, func(state *storage.State) (bool, error) {
		record, found = state.Record(userID)
		return false, nil
	})
	return record, found, err
}

// AddToHistory adds deltaMs to the weekly total of a user and returns the
// updated record.
func (s *Store) AddToHistory(ctx context.Context, userID, displayName string, deltaMs int64) (storage.HistoryRecord, error) {
	if deltaMs < 0 {
		return storage.HistoryRecord{}, fmt.Errorf("negative duration %dms for user %s", deltaMs, userID)
	}

	var record storage.HistoryRecord
	err := s.WithState(ctx, func(state *storage.State) (bool, error) {
		record = state.AddToHistory(userID, displayName, deltaMs)
		return true, nil
	})
	return record, err
}

// ClearAllHistory drops every weekly record and keeps the open sessions.
func (s *Store) ClearAllHistory(ctx context.Context) error {
	return s.WithState(ctx, func(state *storage.State) (bool, error) {
		if state.HistoryLen() == 0 {
			return false, nil
		}
		state.ClearHistory()
		return true, nil
	})
}

// Close closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}

func (s *Store) updateGauges() {
	metrics.ActiveSessions.Set(float64(s.state.ActiveCount()))
	metrics.HistoryEntries.Set(float64(s.state.HistoryLen()))
}
