package presence

import (
	"errors"
	"sort"
	"strings"
)

// ErrInvalidEvent is returned by TransitionEvent.Validate.
var ErrInvalidEvent = errors.New("presence: invalid transition event")

// ChannelSet is the immutable set of monitored channel IDs.
type ChannelSet struct {
	ids map[string]struct{}
}

// NewChannelSet builds a set from the given IDs. Blank IDs are dropped.
func NewChannelSet(ids ...string) ChannelSet {
	set := ChannelSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set.ids[id] = struct{}{}
	}
	return set
}

// Contains reports whether id is a monitored channel. The empty ID (no
// channel) is never a member.
func (c ChannelSet) Contains(id string) bool {
	if id == "" {
		return false
	}
	_, ok := c.ids[id]
	return ok
}

// Len returns the number of monitored channels.
func (c ChannelSet) Len() int {
	return len(c.ids)
}

// IDs returns the monitored channel IDs in sorted order.
func (c ChannelSet) IDs() []string {
	ids := make([]string, 0, len(c.ids))
	for id := range c.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TransitionEvent is a change of a member's presence channel.
// An empty channel ID means the member was (or is now) in no channel.
type TransitionEvent struct {
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	IsBot        bool   `json:"isBot"`
	IsEligible   bool   `json:"isEligible"`
	OldChannelID string `json:"oldChannelId,omitempty"`
	NewChannelID string `json:"newChannelId,omitempty"`
	Now          int64  `json:"now"`
}

// Validate checks the fields required to classify the event.
func (e TransitionEvent) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return errors.Join(ErrInvalidEvent, errors.New("missing user ID"))
	}
	if e.Now < 0 {
		return errors.Join(ErrInvalidEvent, errors.New("negative timestamp"))
	}
	return nil
}

// Action is what a transition did to the state.
type Action string

const (
	// ActionIgnored covers bots, ineligible members and transitions that
	// neither enter nor leave the monitored set.
	ActionIgnored Action = "ignored"
	// ActionOpened means a new session was started.
	ActionOpened Action = "opened"
	// ActionContinued means the member was already in a session.
	ActionContinued Action = "continued"
	// ActionFlushed means a session was closed into the weekly history.
	ActionFlushed Action = "flushed"
	// ActionNoSession means a leave transition found no open session.
	ActionNoSession Action = "no_session"
	// ActionSkipped means the event was invalid and dropped.
	ActionSkipped Action = "skipped"
)

// Result describes the outcome of one transition.
type Result struct {
	Action    Action `json:"action"`
	ElapsedMs int64  `json:"elapsedMs,omitempty"`
	TotalMs   int64  `json:"totalMs,omitempty"`
}

// Changed reports whether the state was modified.
func (r Result) Changed() bool {
	return r.Action == ActionOpened || r.Action == ActionFlushed
}
