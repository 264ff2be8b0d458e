package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/basetrack/internal/metrics"
	"github.com/goodtune/basetrack/internal/storage"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	// DefaultResetSchedule is Sunday 23:59.
	DefaultResetSchedule = "59 23 * * 0"

	// DefaultResetTimezone is the timezone the schedule is evaluated in.
	DefaultResetTimezone = "America/Sao_Paulo"

	resetTimeout = 30 * time.Second
)

// ResetWeek clears the weekly history and leaves open sessions untouched.
// An open session is credited in full to the week in which it closes.
func (t *Tracker) ResetWeek(ctx context.Context) error {
	var cleared int
	err := t.store.WithState(ctx, func(state *storage.State) (bool, error) {
		cleared = state.HistoryLen()
		if cleared == 0 {
			return false, nil
		}
		state.ClearHistory()
		return true, nil
	})
	if err != nil {
		metrics.WeeklyResets.WithLabelValues("failure").Inc()
		t.logger.Error().Err(err).Msg("Weekly reset failed, history kept")
		return fmt.Errorf("reset week: %w", err)
	}

	metrics.WeeklyResets.WithLabelValues("success").Inc()
	t.logger.Info().Int("cleared_entries", cleared).Msg("Weekly history reset")
	return nil
}

// ResetScheduler runs ResetWeek on a cron schedule.
type ResetScheduler struct {
	tracker  *Tracker
	cron     *cron.Cron
	entryID  cron.EntryID
	schedule string
	location *time.Location
	logger   zerolog.Logger
}

// NewResetScheduler creates a scheduler for a standard 5-field cron schedule
// evaluated in loc.
func NewResetScheduler(tracker *Tracker, schedule string, loc *time.Location, logger zerolog.Logger) (*ResetScheduler, error) {
	if loc == nil {
		loc = time.UTC
	}

	rs := &ResetScheduler{
		tracker:  tracker,
		schedule: schedule,
		location: loc,
		logger:   logger.With().Str("component", "reset-scheduler").Logger(),
	}

	cronLogger := cronLogger{logger: rs.logger}
	rs.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	id, err := rs.cron.AddFunc(schedule, rs.run)
	if err != nil {
		return nil, fmt.Errorf("invalid reset schedule %q: %w", schedule, err)
	}
	rs.entryID = id

	return rs, nil
}

// Start begins the reset scheduler
func (rs *ResetScheduler) Start() {
	rs.cron.Start()
	rs.logger.Info().
		Str("schedule", rs.schedule).
		Str("timezone", rs.location.String()).
		Time("next_reset", rs.Next()).
		Msg("Weekly reset scheduler started")
}

// Stop stops the scheduler and waits for a running reset to finish.
func (rs *ResetScheduler) Stop() {
	<-rs.cron.Stop().Done()
	rs.logger.Info().Msg("Weekly reset scheduler stopped")
}

// Next returns the time of the next scheduled reset. It is zero until the
// scheduler is started.
func (rs *ResetScheduler) Next() time.Time {
	return rs.cron.Entry(rs.entryID).Next
}

func (rs *ResetScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()

	// Failures are logged by ResetWeek; the next tick tries again.
	_ = rs.tracker.ResetWeek(ctx)
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
