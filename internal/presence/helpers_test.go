package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/basetrack/internal/storage"
	"github.com/rs/zerolog"
)

// memoryBackend is an in-memory storage.StateStore with injectable failures.
type memoryBackend struct {
	mu      sync.Mutex
	state   *storage.State
	loadErr error
	saveErr error
	loads   int
	saves   int
}

func (b *memoryBackend) Load(ctx context.Context) (*storage.State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads++
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	if b.state == nil {
		return nil, storage.ErrNotFound
	}
	return b.state.Clone(), nil
}

func (b *memoryBackend) Save(ctx context.Context, state *storage.State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.saves++
	b.state = state.Clone()
	return nil
}

func (b *memoryBackend) Close() error {
	return nil
}

func (b *memoryBackend) setSaveErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveErr = err
}

func (b *memoryBackend) saved() *storage.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return nil
	}
	return b.state.Clone()
}

const (
	chan1   = "chan-1"
	chan2   = "chan-2"
	offBase = "lobby"
)

func newTestTracker(t *testing.T) (*Tracker, *memoryBackend, *TestClock) {
	t.Helper()

	backend := &memoryBackend{}
	clock := &TestClock{CurrentTime: time.UnixMilli(1_700_000_000_000)}
	store := NewStore(backend, zerolog.Nop())
	tracker := NewTracker(store, NewChannelSet(chan1, chan2), clock, zerolog.Nop())
	return tracker, backend, clock
}

func enter(userID, channel string, now int64) TransitionEvent {
	return TransitionEvent{
		UserID:       userID,
		DisplayName:  userID,
		IsEligible:   true,
		NewChannelID: channel,
		Now:          now,
	}
}

func move(userID, from, to string, now int64) TransitionEvent {
	return TransitionEvent{
		UserID:       userID,
		DisplayName:  userID,
		IsEligible:   true,
		OldChannelID: from,
		NewChannelID: to,
		Now:          now,
	}
}

func leave(userID, channel string, now int64) TransitionEvent {
	return TransitionEvent{
		UserID:       userID,
		DisplayName:  userID,
		IsEligible:   true,
		OldChannelID: channel,
		Now:          now,
	}
}

func mustHandle(t *testing.T, tracker *Tracker, event TransitionEvent) Result {
	t.Helper()

	result, err := tracker.HandleTransition(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleTransition(%+v): %v", event, err)
	}
	return result
}

func mustTotal(t *testing.T, tracker *Tracker, userID string, now int64) int64 {
	t.Helper()

	total, err := tracker.GetTotal(context.Background(), userID, now)
	if err != nil {
		t.Fatalf("GetTotal(%s): %v", userID, err)
	}
	return total
}
