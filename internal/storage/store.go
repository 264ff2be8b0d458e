package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no durable copy of the state exists yet.
var ErrNotFound = errors.New("storage: record not found")

// ErrCorrupt is returned when a durable copy exists but cannot be decoded.
var ErrCorrupt = errors.New("storage: corrupt state")

// StateStore persists the whole accumulation state as one unit.
// Save must either replace the durable copy completely or leave it untouched.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
	Close() error
}
