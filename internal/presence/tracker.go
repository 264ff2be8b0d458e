package presence

import (
	"context"

	"github.com/goodtune/basetrack/internal/metrics"
	"github.com/goodtune/basetrack/internal/storage"
	"github.com/rs/zerolog"
)

// Tracker turns channel transitions into weekly presence totals and answers
// queries about them.
type Tracker struct {
	store    *Store
	channels ChannelSet
	clock    Clock
	logger   zerolog.Logger
}

// NewTracker creates a tracker. A nil clock uses the system time.
func NewTracker(store *Store, channels ChannelSet, clock Clock, logger zerolog.Logger) *Tracker {
	if clock == nil {
		clock = RealClock{}
	}
	return &Tracker{
		store:    store,
		channels: channels,
		clock:    clock,
		logger:   logger.With().Str("component", "presence-tracker").Logger(),
	}
}

// Channels returns the monitored channel set.
func (t *Tracker) Channels() ChannelSet {
	return t.channels
}

// Store returns the underlying store.
func (t *Tracker) Store() *Store {
	return t.store
}

// Now returns the tracker clock in milliseconds since the epoch. Callers
// without an event time of their own use it to stamp transitions and queries.
func (t *Tracker) Now() int64 {
	return nowMs(t.clock)
}

// ApplyTransition classifies event against the monitored channels and
// applies the resulting action to state.
//
//	old in | new in | action
//	-------+--------+------------------------------------------
//	 no    | yes    | open a session unless one is already open
//	 yes   | no     | flush the open session into history
//	 yes   | yes    | keep the session running
//	 no    | no     | nothing
func ApplyTransition(state *storage.State, channels ChannelSet, event TransitionEvent) Result {
	if event.IsBot || !event.IsEligible {
		return Result{Action: ActionIgnored}
	}

	oldIn := channels.Contains(event.OldChannelID)
	newIn := channels.Contains(event.NewChannelID)

	switch {
	case !oldIn && newIn:
		if _, ok := state.ActiveSession(event.UserID); ok {
			return Result{Action: ActionContinued}
		}
		state.SetActive(storage.Session{UserID: event.UserID, StartedAt: event.Now})
		return Result{Action: ActionOpened}

	case oldIn && !newIn:
		return flush(state, event.UserID, event.DisplayName, event.Now)

	case oldIn && newIn:
		return Result{Action: ActionContinued}
	}

	return Result{Action: ActionIgnored}
}

// flush closes the open session of a user into the history.
func flush(state *storage.State, userID, displayName string, now int64) Result {
	session, ok := state.ActiveSession(userID)
	if !ok {
		return Result{Action: ActionNoSession}
	}

	elapsed := now - session.StartedAt
	if elapsed < 0 {
		elapsed = 0
	}

	record := state.AddToHistory(userID, displayName, elapsed)
	state.DeleteActive(userID)

	return Result{Action: ActionFlushed, ElapsedMs: elapsed, TotalMs: record.TotalMs}
}

// HandleTransition applies one transition event under the store lock.
// Invalid events are logged and skipped. event.Now is used as given, zero
// included.
func (t *Tracker) HandleTransition(ctx context.Context, event TransitionEvent) (Result, error) {
	if err := event.Validate(); err != nil {
		t.logger.Warn().Err(err).
			Str("user_id", event.UserID).
			Str("old_channel", event.OldChannelID).
			Str("new_channel", event.NewChannelID).
			Msg("Skipping invalid transition event")
		metrics.TransitionsTotal.WithLabelValues(string(ActionSkipped)).Inc()
		return Result{Action: ActionSkipped}, nil
	}

	var (
		result    Result
		startedAt int64
	)
	err := t.store.WithState(ctx, func(state *storage.State) (bool, error) {
		if session, ok := state.ActiveSession(event.UserID); ok {
			startedAt = session.StartedAt
		}
		result = ApplyTransition(state, t.channels, event)
		return result.Changed(), nil
	})
	if err != nil {
		return Result{}, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(result.Action)).Inc()

	switch result.Action {
	case ActionOpened:
		t.logger.Info().
			Str("user_id", event.UserID).
			Str("display_name", event.DisplayName).
			Str("channel", event.NewChannelID).
			Msg("Started presence session")
	case ActionFlushed:
		if event.Now < startedAt {
			t.logger.Warn().
				Str("user_id", event.UserID).
				Int64("started_at", startedAt).
				Int64("now", event.Now).
				Msg("Leave transition predates the session start, counted zero time")
		}
		t.recordFlush(result)
		t.logger.Info().
			Str("user_id", event.UserID).
			Str("display_name", event.DisplayName).
			Int64("elapsed_ms", result.ElapsedMs).
			Int64("total_ms", result.TotalMs).
			Msg("Closed presence session")
	default:
		t.logger.Debug().
			Str("user_id", event.UserID).
			Str("action", string(result.Action)).
			Msg("Transition processed")
	}

	return result, nil
}

// ForceCloseSession flushes the open session of a user as a leave transition
// would, and returns the user's resulting weekly total. Without an open
// session nothing is written.
func (t *Tracker) ForceCloseSession(ctx context.Context, userID string, now int64) (int64, error) {
	var result Result
	err := t.store.WithState(ctx, func(state *storage.State) (bool, error) {
		// The stored display name wins; the user ID stands in for new records.
		result = flush(state, userID, userID, now)
		if result.Action == ActionNoSession {
			if record, ok := state.Record(userID); ok {
				result.TotalMs = record.TotalMs
			}
		}
		return result.Changed(), nil
	})
	if err != nil {
		return 0, err
	}

	if result.Action == ActionFlushed {
		t.recordFlush(result)
		t.logger.Info().
			Str("user_id", userID).
			Int64("elapsed_ms", result.ElapsedMs).
			Int64("total_ms", result.TotalMs).
			Msg("Force-closed presence session")
	}

	return result.TotalMs, nil
}

func (t *Tracker) recordFlush(result Result) {
	metrics.SessionsFlushed.Inc()
	metrics.AccumulatedSeconds.Add(float64(result.ElapsedMs) / 1000)
}
