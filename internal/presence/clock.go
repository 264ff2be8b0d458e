package presence

import "time"

// Clock is where the tracker reads wall time when a caller needs the current
// moment rather than an event timestamp.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system time.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// TestClock is a settable clock. It only moves when CurrentTime is assigned
// or Advance is called.
type TestClock struct {
	CurrentTime time.Time
}

func (t *TestClock) Now() time.Time {
	return t.CurrentTime
}

// Advance moves CurrentTime forward by d.
func (t *TestClock) Advance(d time.Duration) {
	t.CurrentTime = t.CurrentTime.Add(d)
}

func nowMs(c Clock) int64 {
	return c.Now().UnixMilli()
}
