package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/basetrack/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketActive  = "active"
	bucketHistory = "history"
	bucketMeta    = "meta"

	metaSavedAt = "saved_at"
)

// Store implements storage.StateStore using bbolt.
// Sessions live in the active bucket keyed by user ID; history records live
// in the history bucket keyed by their big-endian position.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := storage.EnsureParentDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketActive, bucketHistory, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the state. A database that was never saved to yields
// storage.ErrNotFound.
func (s *Store) Load(ctx context.Context) (*storage.State, error) {
	var state *storage.State
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta == nil || meta.Get([]byte(metaSavedAt)) == nil {
			return storage.ErrNotFound
		}

		loaded := storage.NewState()

		if active := tx.Bucket([]byte(bucketActive)); active != nil {
			err := active.ForEach(func(k, v []byte) error {
				startedAt, err := strconv.ParseInt(string(v), 10, 64)
				if err != nil {
					return fmt.Errorf("%w: session %s: %v", storage.ErrCorrupt, k, err)
				}
				loaded.SetActive(storage.Session{UserID: string(k), StartedAt: startedAt})
				return nil
			})
			if err != nil {
				return err
			}
		}

		if history := tx.Bucket([]byte(bucketHistory)); history != nil {
			err := history.ForEach(func(_, v []byte) error {
				var record storage.HistoryRecord
				if err := unmarshal(v, &record); err != nil {
					return fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
				}
				if record.TotalMs < 0 {
					return fmt.Errorf("%w: history record %s has negative total", storage.ErrCorrupt, record.UserID)
				}
				loaded.PutRecord(record)
				return nil
			})
			if err != nil {
				return err
			}
		}

		state = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Save replaces both buckets inside one write transaction.
func (s *Store) Save(ctx context.Context, state *storage.State) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		active, err := recreateBucket(tx, bucketActive)
		if err != nil {
			return err
		}
		for _, session := range state.ActiveSessions() {
			value := strconv.FormatInt(session.StartedAt, 10)
			if err := active.Put([]byte(session.UserID), []byte(value)); err != nil {
				return fmt.Errorf("put session %s: %w", session.UserID, err)
			}
		}

		history, err := recreateBucket(tx, bucketHistory)
		if err != nil {
			return err
		}
		for i, record := range state.History() {
			data, err := marshal(record)
			if err != nil {
				return err
			}
			if err := history.Put(positionKey(i), data); err != nil {
				return fmt.Errorf("put history record %s: %w", record.UserID, err)
			}
		}

		meta := tx.Bucket([]byte(bucketMeta))
		if meta == nil {
			return fmt.Errorf("bucket missing: %s", bucketMeta)
		}
		savedAt := time.Now().UTC().Format(time.RFC3339Nano)
		return meta.Put([]byte(metaSavedAt), []byte(savedAt))
	})
}

func recreateBucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	if tx.Bucket([]byte(name)) != nil {
		if err := tx.DeleteBucket([]byte(name)); err != nil {
			return nil, fmt.Errorf("delete bucket %s: %w", name, err)
		}
	}
	bucket, err := tx.CreateBucket([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	return bucket, nil
}

func positionKey(i int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(i))
	return key
}

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}
