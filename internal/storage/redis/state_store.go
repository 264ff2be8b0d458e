package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/basetrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

var replaceState = redis.NewScript(replaceStateScript)

type stateKeys struct {
	active  string
	history string
	order   string
	savedAt string
}

func newStateKeys(prefix string) stateKeys {
	if prefix == "" {
		prefix = "basetrack"
	}
	return stateKeys{
		active:  prefix + ":state:active",
		history: prefix + ":state:history",
		order:   prefix + ":state:history:order",
		savedAt: prefix + ":state:saved_at",
	}
}

func (k stateKeys) all() []string {
	return []string{k.active, k.history, k.order, k.savedAt}
}

// Load reads every state key inside one MULTI/EXEC block.
func (s *Store) Load(ctx context.Context) (*storage.State, error) {
	var (
		savedCmd   *redis.IntCmd
		activeCmd  *redis.MapStringStringCmd
		orderCmd   *redis.StringSliceCmd
		historyCmd *redis.MapStringStringCmd
	)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		savedCmd = pipe.Exists(ctx, s.keys.savedAt)
		activeCmd = pipe.HGetAll(ctx, s.keys.active)
		orderCmd = pipe.LRange(ctx, s.keys.order, 0, -1)
		historyCmd = pipe.HGetAll(ctx, s.keys.history)
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	if savedCmd.Val() == 0 {
		return nil, storage.ErrNotFound
	}

	return parseState(activeCmd.Val(), orderCmd.Val(), historyCmd.Val())
}

// Save replaces the state through replaceStateScript.
func (s *Store) Save(ctx context.Context, state *storage.State) error {
	sessions := state.ActiveSessions()
	records := state.History()

	args := make([]interface{}, 0, 3+2*len(sessions)+2*len(records))

	args = append(args, len(sessions))
	for _, session := range sessions {
		args = append(args, session.UserID, session.StartedAt)
	}

	args = append(args, len(records))
	for _, record := range records {
		data, err := json.Marshal(historyValue{DisplayName: record.DisplayName, TotalMs: record.TotalMs})
		if err != nil {
			return fmt.Errorf("marshal history record %s: %w", record.UserID, err)
		}
		args = append(args, record.UserID, string(data))
	}

	args = append(args, time.Now().UTC().Format(time.RFC3339Nano))

	if err := replaceState.Run(ctx, s.client, s.keys.all(), args...).Err(); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
