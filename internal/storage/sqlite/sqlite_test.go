package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/goodtune/basetrack/internal/storage"
)

func TestOpenVariants(t *testing.T) {
	dir := t.TempDir()
	for _, dsn := range []string{
		":memory:",
		filepath.Join(dir, "plain.db"),
		"sqlite://" + filepath.Join(dir, "nested", "prefixed.db"),
	} {
		store, err := Open(dsn)
		if err != nil {
			t.Fatalf("open %s: %v", dsn, err)
		}
		_ = store.Close()
	}

	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestLoadBeforeFirstSave(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.Load(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	state := storage.NewState()
	state.SetActive(storage.Session{UserID: "u1", StartedAt: 1700000000999})
	state.AddToHistory("u3", "Third", 100000)
	state.AddToHistory("u2", "Second", 50000)
	state.AddToHistory("u1", "First", 100000)

	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !state.Equal(loaded) {
		t.Fatalf("round trip mismatch: %+v", loaded.History())
	}

	// Saving a reset state keeps sessions and drops history.
	state.ClearHistory()
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save reset state: %v", err)
	}
	loaded, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("load reset state: %v", err)
	}
	if loaded.HistoryLen() != 0 || loaded.ActiveCount() != 1 {
		t.Errorf("expected 1 session and no history, got %d and %d", loaded.ActiveCount(), loaded.HistoryLen())
	}
}

func TestSaveRejectsNegativeTotal(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	good := storage.NewState()
	good.AddToHistory("u1", "One", 10)
	if err := store.Save(ctx, good); err != nil {
		t.Fatalf("save: %v", err)
	}

	bad := storage.NewState()
	bad.PutRecord(storage.HistoryRecord{UserID: "u1", DisplayName: "One", TotalMs: -1})
	if err := store.Save(ctx, bad); err == nil {
		t.Fatal("expected constraint violation")
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if record, _ := loaded.Record("u1"); record.TotalMs != 10 {
		t.Errorf("expected previous state kept, got %+v", record)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "basetrack.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basetrack.db")

	for i := 0; i < 2; i++ {
		store, err := Open(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}

		var version int
		if err := store.db.QueryRow("SELECT MAX(version) FROM migrations").Scan(&version); err != nil {
			t.Fatalf("read migration version: %v", err)
		}
		if version != len(migrations) {
			t.Errorf("Expected version %d, got %d", len(migrations), version)
		}
		_ = store.Close()
	}
}
