package storage

import (
	"encoding/json"
	"testing"
)

func sampleState() *State {
	state := NewState()
	state.SetActive(Session{UserID: "user-b", StartedAt: 1700000005000})
	state.SetActive(Session{UserID: "user-a", StartedAt: 1700000000000})
	state.AddToHistory("user-z", "Zed", 100000)
	state.AddToHistory("user-a", "Alice", 65000)
	state.AddToHistory("user-m", "Mia", 100000)
	return state
}

func TestDocumentRoundTrip(t *testing.T) {
	state := sampleState()

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}

	loaded := NewState()
	if err := json.Unmarshal(data, loaded); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}

	if !state.Equal(loaded) {
		t.Fatalf("round trip mismatch:\nwant %s\ngot  %+v", data, loaded.History())
	}

	history := loaded.History()
	order := []string{"user-z", "user-a", "user-m"}
	for i, id := range order {
		if history[i].UserID != id {
			t.Errorf("history[%d]: expected %s, got %s", i, id, history[i].UserID)
		}
	}
}

func TestDocumentLayout(t *testing.T) {
	state := NewState()
	state.SetActive(Session{UserID: "u1", StartedAt: 42})
	state.AddToHistory("u2", "Bob", 7)

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}

	expected := `{"active":{"u1":42},"history":{"u2":{"displayName":"Bob","totalAccumulatedMs":7}}}`
	if string(data) != expected {
		t.Fatalf("expected %s, got %s", expected, data)
	}
}

func TestDocumentTolerantDecode(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantActive  int
		wantHistory int
	}{
		{name: "empty object", input: `{}`},
		{name: "null", input: `null`},
		{name: "null sections", input: `{"active":null,"history":null}`},
		{name: "unknown keys", input: `{"version":2,"active":{"a":1},"history":{"a":{"displayName":"A","totalAccumulatedMs":3}}}`, wantActive: 1, wantHistory: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewState()
			if err := json.Unmarshal([]byte(tt.input), state); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if state.ActiveCount() != tt.wantActive {
				t.Errorf("expected %d active sessions, got %d", tt.wantActive, state.ActiveCount())
			}
			if state.HistoryLen() != tt.wantHistory {
				t.Errorf("expected %d history records, got %d", tt.wantHistory, state.HistoryLen())
			}
		})
	}
}

func TestDocumentRejectsBadInput(t *testing.T) {
	inputs := []string{
		`[]`,
		`{"active":{"a":"soon"}}`,
		`{"active":{"a":1.5}}`,
		`{"history":{"a":{"displayName":"A","totalAccumulatedMs":-1}}}`,
		`{"history":[1,2]}`,
		`{"active":{}`,
	}

	for _, input := range inputs {
		state := NewState()
		if err := json.Unmarshal([]byte(input), state); err == nil {
			t.Errorf("expected error for %s", input)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	state := sampleState()
	clone := state.Clone()

	clone.AddToHistory("user-a", "ignored", 1000)
	clone.AddToHistory("user-new", "New", 5)
	clone.DeleteActive("user-a")
	clone.ClearHistory()

	record, ok := state.Record("user-a")
	if !ok || record.TotalMs != 65000 {
		t.Fatalf("original history changed: %+v", record)
	}
	if _, ok := state.ActiveSession("user-a"); !ok {
		t.Fatal("original active session removed")
	}
	if state.HistoryLen() != 3 {
		t.Fatalf("expected 3 history records, got %d", state.HistoryLen())
	}
}

func TestAddToHistoryKeepsFirstDisplayName(t *testing.T) {
	state := NewState()
	state.AddToHistory("u1", "First", 10)
	record := state.AddToHistory("u1", "Renamed", 15)

	if record.DisplayName != "First" {
		t.Errorf("expected display name First, got %s", record.DisplayName)
	}
	if record.TotalMs != 25 {
		t.Errorf("expected total 25, got %d", record.TotalMs)
	}
}
