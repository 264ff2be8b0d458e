package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestScenarioResetKeepsOpenSession(t *testing.T) {
	tracker, backend, clock := newTestTracker(t)
	ctx := context.Background()
	t0 := clock.Now().UnixMilli()

	mustHandle(t, tracker, enter("A", chan1, t0-100000))
	mustHandle(t, tracker, leave("A", chan1, t0))
	mustHandle(t, tracker, enter("A", chan1, t0+5000))

	before := backend.saved().ActiveSessions()

	if err := tracker.ResetWeek(ctx); err != nil {
		t.Fatalf("ResetWeek: %v", err)
	}

	saved := backend.saved()
	if saved.HistoryLen() != 0 {
		t.Errorf("Expected empty history, got %d entries", saved.HistoryLen())
	}
	after := saved.ActiveSessions()
	if len(after) != len(before) || after[0] != before[0] {
		t.Errorf("Expected sessions untouched, before %+v after %+v", before, after)
	}
	if got := mustTotal(t, tracker, "A", t0+10000); got != 5000 {
		t.Errorf("Expected 5000 after reset, got %d", got)
	}
}

func TestResetWeekIdempotent(t *testing.T) {
	tracker, backend, clock := newTestTracker(t)
	ctx := context.Background()
	t0 := clock.Now().UnixMilli()

	mustHandle(t, tracker, enter("A", chan1, t0))
	mustHandle(t, tracker, leave("A", chan1, t0+1))
	mustHandle(t, tracker, enter("B", chan1, t0))

	if err := tracker.ResetWeek(ctx); err != nil {
		t.Fatalf("first ResetWeek: %v", err)
	}
	once := backend.saved()
	saves := backend.saves

	if err := tracker.ResetWeek(ctx); err != nil {
		t.Fatalf("second ResetWeek: %v", err)
	}
	if !once.Equal(backend.saved()) {
		t.Error("Expected second reset to leave the state unchanged")
	}
	if backend.saves != saves {
		t.Error("Expected second reset not to write")
	}
}

func TestResetWeekFailureKeepsHistory(t *testing.T) {
	tracker, backend, clock := newTestTracker(t)
	ctx := context.Background()
	t0 := clock.Now().UnixMilli()

	mustHandle(t, tracker, enter("A", chan1, t0))
	mustHandle(t, tracker, leave("A", chan1, t0+1000))

	backend.setSaveErr(errors.New("disk full"))
	if err := tracker.ResetWeek(ctx); !errors.Is(err, ErrPersist) {
		t.Fatalf("Expected ErrPersist, got %v", err)
	}

	if got := mustTotal(t, tracker, "A", t0+1000); got != 1000 {
		t.Errorf("Expected history kept after failed reset, got %d", got)
	}
}

func TestResetSchedulerInvalidSchedule(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	if _, err := NewResetScheduler(tracker, "every sunday", nil, zerolog.Nop()); err == nil {
		t.Fatal("Expected error for invalid schedule")
	}
}

func TestResetSchedulerNextRun(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	loc, err := time.LoadLocation(DefaultResetTimezone)
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	rs, err := NewResetScheduler(tracker, DefaultResetSchedule, loc, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewResetScheduler: %v", err)
	}
	rs.Start()
	defer rs.Stop()

	next := rs.Next().In(loc)
	if next.IsZero() {
		t.Fatal("Expected next run to be scheduled")
	}
	if next.Weekday() != time.Sunday || next.Hour() != 23 || next.Minute() != 59 {
		t.Errorf("Expected Sunday 23:59, got %s", next)
	}
	if !next.After(time.Now()) {
		t.Errorf("Expected next run in the future, got %s", next)
	}
}

func TestResetSchedulerRun(t *testing.T) {
	tracker, backend, clock := newTestTracker(t)
	t0 := clock.Now().UnixMilli()

	mustHandle(t, tracker, enter("A", chan1, t0))
	mustHandle(t, tracker, leave("A", chan1, t0+1000))

	rs, err := NewResetScheduler(tracker, DefaultResetSchedule, time.UTC, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewResetScheduler: %v", err)
	}
	rs.run()

	if backend.saved().HistoryLen() != 0 {
		t.Error("Expected scheduled run to clear the history")
	}
}
