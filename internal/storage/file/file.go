package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/goodtune/basetrack/internal/storage"
)

// Store keeps the whole state in a single JSON document on disk.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns a file-backed store rooted at path. The file itself is
// created on the first Save.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("state file path is required")
	}
	if err := storage.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the document. A missing file yields storage.ErrNotFound and an
// undecodable one storage.ErrCorrupt.
func (s *Store) Load(ctx context.Context) (*storage.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", storage.ErrCorrupt, s.path)
	}

	state := storage.NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	return state, nil
}

// Save writes the document to a temporary file and renames it over the
// previous copy.
func (s *Store) Save(ctx context.Context, state *storage.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "    "); err != nil {
		return fmt.Errorf("indent state: %w", err)
	}
	out.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := f.Write(out.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Close is a no-op; the store holds no open handles between calls.
func (s *Store) Close() error {
	return nil
}
