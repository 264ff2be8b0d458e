package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Document keys of the persisted state.
const (
	docActive  = "active"
	docHistory = "history"
)

type documentRecord struct {
	DisplayName string `json:"displayName"`
	TotalMs     int64  `json:"totalAccumulatedMs"`
}

// MarshalJSON writes the state as
//
//	{"active": {"<user>": <startedAtMs>}, "history": {"<user>": {...}}}
//
// with history keys in insertion order.
func (s *State) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(`{"` + docActive + `":{`)
	for i, session := range s.ActiveSessions() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, session.UserID); err != nil {
			return nil, err
		}
		buf.WriteString(strconv.FormatInt(session.StartedAt, 10))
	}

	buf.WriteString(`},"` + docHistory + `":{`)
	for i, record := range s.history {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, record.UserID); err != nil {
			return nil, err
		}
		value, err := json.Marshal(documentRecord{DisplayName: record.DisplayName, TotalMs: record.TotalMs})
		if err != nil {
			return nil, fmt.Errorf("marshal history record %s: %w", record.UserID, err)
		}
		buf.Write(value)
	}
	buf.WriteString(`}}`)

	return buf.Bytes(), nil
}

// UnmarshalJSON reads a document written by MarshalJSON, keeping the order
// of the history keys. Unknown top-level keys are ignored.
func (s *State) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	fresh := NewState()

	isNull, err := openObject(dec)
	if err != nil {
		return err
	}
	if isNull {
		*s = *fresh
		return nil
	}

	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return err
		}

		switch key {
		case docActive:
			var active map[string]int64
			if err := dec.Decode(&active); err != nil {
				return fmt.Errorf("decode active sessions: %w", err)
			}
			for userID, startedAt := range active {
				fresh.SetActive(Session{UserID: userID, StartedAt: startedAt})
			}
		case docHistory:
			if err := decodeHistory(dec, fresh); err != nil {
				return err
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return fmt.Errorf("skip key %q: %w", key, err)
			}
		}
	}

	if err := closeObject(dec); err != nil {
		return err
	}

	*s = *fresh
	return nil
}

func decodeHistory(dec *json.Decoder, state *State) error {
	isNull, err := openObject(dec)
	if err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	if isNull {
		return nil
	}
	for dec.More() {
		userID, err := readKey(dec)
		if err != nil {
			return err
		}
		var record documentRecord
		if err := dec.Decode(&record); err != nil {
			return fmt.Errorf("decode history record %s: %w", userID, err)
		}
		if record.TotalMs < 0 {
			return fmt.Errorf("history record %s has negative total %d", userID, record.TotalMs)
		}
		state.PutRecord(HistoryRecord{
			UserID:      userID,
			DisplayName: record.DisplayName,
			TotalMs:     record.TotalMs,
		})
	}
	return closeObject(dec)
}

func writeKey(buf *bytes.Buffer, key string) error {
	encoded, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	buf.Write(encoded)
	buf.WriteByte(':')
	return nil
}

func openObject(dec *json.Decoder) (bool, error) {
	tok, err := dec.Token()
	if err != nil {
		return false, err
	}
	if tok == nil {
		return true, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return false, fmt.Errorf("expected object, got %v", tok)
	}
	return false, nil
}

func closeObject(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '}' {
		return fmt.Errorf("expected end of object, got %v", tok)
	}
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}
