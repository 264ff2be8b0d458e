package redis

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/goodtune/basetrack/internal/storage"
)

// historyValue is the hash field value of a history record
type historyValue struct {
	DisplayName string `json:"displayName"`
	TotalMs     int64  `json:"totalAccumulatedMs"`
}

// parseState converts the active hash, the history order list and the
// history hash into a State
func parseState(active map[string]string, order []string, history map[string]string) (*storage.State, error) {
	state := storage.NewState()

	for userID, raw := range active {
		startedAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse started_at of %s: %v", storage.ErrCorrupt, userID, err)
		}
		state.SetActive(storage.Session{UserID: userID, StartedAt: startedAt})
	}

	for _, userID := range order {
		raw, ok := history[userID]
		if !ok {
			return nil, fmt.Errorf("%w: history order references missing record %s", storage.ErrCorrupt, userID)
		}
		var value historyValue
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("%w: failed to parse history record %s: %v", storage.ErrCorrupt, userID, err)
		}
		if value.TotalMs < 0 {
			return nil, fmt.Errorf("%w: history record %s has negative total", storage.ErrCorrupt, userID)
		}
		state.PutRecord(storage.HistoryRecord{
			UserID:      userID,
			DisplayName: value.DisplayName,
			TotalMs:     value.TotalMs,
		})
	}

	if len(order) != len(history) {
		return nil, fmt.Errorf("%w: history order has %d entries, hash has %d", storage.ErrCorrupt, len(order), len(history))
	}

	return state, nil
}
