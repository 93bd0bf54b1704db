package history

import (
	"testing"
	"time"
)

func TestAddBroadcastsWithIdenticalTimestamp(t *testing.T) {
	s := Set{"model-a": nil, "model-b": nil, "model-c": nil}
	s.Add(TypeEvent, "hello")
	s.Add(TypeUser, "world")

	var ts time.Time
	for modelID, entries := range s {
		if len(entries) != 2 {
			t.Fatalf("%s has %d entries, want 2", modelID, len(entries))
		}
		// Newest first.
		if entries[0].Type != TypeUser || entries[1].Type != TypeEvent {
			t.Errorf("%s order = %v, %v", modelID, entries[0].Type, entries[1].Type)
		}
		if ts.IsZero() {
			ts = entries[0].Timestamp
		} else if !entries[0].Timestamp.Equal(ts) {
			t.Errorf("%s timestamp %v differs from %v", modelID, entries[0].Timestamp, ts)
		}
	}
}

func TestAddToEmptySetCreatesDefaultKey(t *testing.T) {
	s := Set{}
	s.Add(TypeEvent, "msg")

	entries, ok := s[DefaultKey]
	if !ok || len(entries) != 1 {
		t.Fatalf("default key entries = %v, %v", entries, ok)
	}
	if entries[0].Content != "msg" {
		t.Errorf("content = %v", entries[0].Content)
	}
}

func TestAddWithActionRecordsFields(t *testing.T) {
	s := Set{"m": nil}
	s.AddWithAction(TypeResult, `<action_result>{"ok":true}</action_result>`, "act-1", map[string]any{"ok": true}, "shell")

	e := s["m"][0]
	if e.ActionID != "act-1" || e.ActionType != "shell" {
		t.Errorf("entry fields = %+v", e)
	}
	if e.Result == nil {
		t.Error("result field empty")
	}
}

func TestFindLastDecision(t *testing.T) {
	s := Set{"m": nil}
	s.Add(TypeDecision, "first")
	s.Add(TypeEvent, "noise")
	s.Add(TypeDecision, "second")
	s.Add(TypeUser, "more noise")

	got := s.FindLastDecision("m")
	if got == nil || got.Content != "second" {
		t.Errorf("FindLastDecision = %+v, want second", got)
	}
	if s.FindLastDecision("unknown") != nil {
		t.Error("unknown model returned a decision")
	}
}

func TestFindResultForAction(t *testing.T) {
	s := Set{"m": nil}
	s.AddWithAction(TypeResult, "r1", "a1", "r1", "shell")
	s.AddWithAction(TypeResult, "r2", "a2", "r2", "web_fetch")

	if got := s.FindResultForAction("m", "a1"); got == nil || got.Content != "r1" {
		t.Errorf("FindResultForAction(a1) = %+v", got)
	}
	if s.FindResultForAction("m", "missing") != nil {
		t.Error("missing action returned a result")
	}
	if s.FindResultForAction("unknown", "a1") != nil {
		t.Error("unknown model returned a result")
	}
}

func TestRekey(t *testing.T) {
	entries := []Entry{
		{Type: TypeUser, Content: "u"},
		{Type: TypeEvent, Content: "e"},
	}

	tests := []struct {
		name    string
		pool    []string
		entries []Entry
		wantLen int
	}{
		{"normal", []string{"a", "b"}, entries, 2},
		{"empty pool", nil, entries, 0},
		{"empty history", []string{"a", "b"}, nil, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rekey(tt.pool, tt.entries)
			if len(got) != tt.wantLen {
				t.Fatalf("key count = %d, want %d", len(got), tt.wantLen)
			}
			for _, modelID := range tt.pool {
				list, ok := got[modelID]
				if !ok {
					t.Fatalf("missing key %s", modelID)
				}
				if len(list) != len(tt.entries) {
					t.Errorf("%s has %d entries, want %d", modelID, len(list), len(tt.entries))
				}
			}
		})
	}
}

func TestRekeyValuesAreIndependentCopies(t *testing.T) {
	entries := []Entry{{Type: TypeUser, Content: "u"}}
	s := Rekey([]string{"a", "b"}, entries)
	s["a"][0].Content = "mutated"
	if s["b"][0].Content != "u" {
		t.Error("rekeyed histories share backing storage")
	}
}

func TestChronologicalReversesNewestFirst(t *testing.T) {
	s := Set{"m": nil}
	s.Add(TypeEvent, "one")
	s.Add(TypeEvent, "two")
	s.Add(TypeEvent, "three")

	chron := Chronological(s["m"])
	want := []string{"one", "two", "three"}
	for i, w := range want {
		if chron[i].Content != w {
			t.Errorf("chron[%d] = %v, want %v", i, chron[i].Content, w)
		}
	}
}

func TestPersistableIsJSONSafe(t *testing.T) {
	s := Set{"m": nil}
	s.Add(TypeImage, []Part{
		{Type: "text", Text: "screenshot"},
		{Type: "image", Data: "QUJD", MimeType: "image/png"},
	})
	s.AddWithAction(TypeResult, "wrapped", "a1", map[string]any{"ok": true}, "shell")

	p := s.Persistable()
	entries, ok := p["m"].([]map[string]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("persistable form = %T %v", p["m"], p["m"])
	}

	// Newest first: result entry at index 0.
	if entries[0]["type"] != "result" || entries[0]["action_id"] != "a1" {
		t.Errorf("result entry = %v", entries[0])
	}
	if _, isStr := entries[0]["timestamp"].(string); !isStr {
		t.Errorf("timestamp not a string: %T", entries[0]["timestamp"])
	}
	parts, ok := entries[1]["content"].([]map[string]any)
	if !ok || len(parts) != 2 || parts[1]["mimeType"] != "image/png" {
		t.Errorf("image parts = %v", entries[1]["content"])
	}
}
