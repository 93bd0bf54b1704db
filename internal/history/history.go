package history

import (
	"time"
)

// EntryType tags one history entry.
type EntryType string

const (
	TypePrompt    EntryType = "prompt"
	TypeEvent     EntryType = "event"
	TypeUser      EntryType = "user"
	TypeAssistant EntryType = "assistant"
	TypeDecision  EntryType = "decision"
	TypeResult    EntryType = "result"
	TypeMessage   EntryType = "message"
	TypeImage     EntryType = "image"
)

// DefaultKey is created when an entry is appended to an empty set, so
// messages are never silently lost before the model pool is configured.
const DefaultKey = "default"

// Part is one piece of multimodal content. Text parts carry Text; image
// parts carry Data (base64) + MimeType, or a URL.
type Part struct {
	Type     string `json:"type"` // "text" or "image"
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Entry is one history record. Content is a string for most entry types and
// []Part for image entries.
type Entry struct {
	Type       EntryType `json:"type"`
	Content    any       `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	ActionID   string    `json:"action_id,omitempty"`
	Result     any       `json:"result,omitempty"`
	ActionType string    `json:"action_type,omitempty"`
}

// Set is the divergent per-model history: model_id → entries, newest first.
// Entries are broadcast-appended so every model sees every event, but after
// condensation individual histories may diverge; both remain valid.
type Set map[string][]Entry

// Add broadcast-appends the same entry (identical timestamp) to every model's
// history. An empty set gets a "default" key.
func (s Set) Add(entryType EntryType, content any) {
	s.add(Entry{Type: entryType, Content: content, Timestamp: time.Now().UTC()})
}

// AddWithAction appends a result-bearing entry: content holds the stable
// wrapped representation while action_id, result, and action_type are kept
// as separate fields for lookup.
func (s Set) AddWithAction(entryType EntryType, content any, actionID string, result any, actionType string) {
	s.add(Entry{
		Type:       entryType,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		ActionID:   actionID,
		Result:     result,
		ActionType: actionType,
	})
}

func (s Set) add(e Entry) {
	if len(s) == 0 {
		s[DefaultKey] = []Entry{e}
		return
	}
	for modelID, entries := range s {
		s[modelID] = append([]Entry{e}, entries...)
	}
}

// FindLastDecision scans the named model's history newest-first for the most
// recent decision entry. Unknown models return nil.
func (s Set) FindLastDecision(modelID string) *Entry {
	for i, e := range s[modelID] {
		if e.Type == TypeDecision {
			return &s[modelID][i]
		}
	}
	return nil
}

// FindResultForAction scans the named model's history newest-first for the
// result entry of one action. Unknown models or missing entries return nil.
func (s Set) FindResultForAction(modelID, actionID string) *Entry {
	for i, e := range s[modelID] {
		if e.Type == TypeResult && e.ActionID == actionID {
			return &s[modelID][i]
		}
	}
	return nil
}

// Replace swaps one model's history wholesale (condensation).
func (s Set) Replace(modelID string, entries []Entry) {
	s[modelID] = entries
}

// Rekey returns a fresh set keyed by newPool, every key sharing the same
// entries. Empty pool → empty set; empty entries → each key maps to an empty
// list. Used when the model pool changes at runtime.
func Rekey(newPool []string, entries []Entry) Set {
	out := make(Set, len(newPool))
	for _, modelID := range newPool {
		list := make([]Entry, len(entries))
		copy(list, entries)
		out[modelID] = list
	}
	return out
}

// Chronological returns the entries oldest-first (histories store newest
// first; model APIs want chronological order).
func Chronological(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
