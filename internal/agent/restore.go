package agent

import (
	"time"

	"github.com/nextlevelbuilder/gohive/internal/consensus"
	"github.com/nextlevelbuilder/gohive/internal/history"
)

// restore rehydrates in-memory state from a persisted snapshot (the inverse
// of persistState). Unknown or malformed pieces are skipped; restoration must
// never prevent the agent from starting.
func (a *Agent) restore(state map[string]any) {
	if hist, ok := state["model_histories"].(map[string]any); ok {
		restored := make(history.Set, len(hist))
		for modelID, raw := range hist {
			restored[modelID] = restoreEntries(raw)
		}
		if len(restored) > 0 {
			a.histories = restored
		}
	}

	if lessons, ok := state["context_lessons"].(map[string]any); ok {
		for modelID, raw := range lessons {
			list, isList := raw.([]any)
			if !isList {
				continue
			}
			for _, item := range list {
				m, isMap := item.(map[string]any)
				if !isMap {
					continue
				}
				lesson := consensus.Lesson{}
				lesson.Type, _ = m["type"].(string)
				lesson.Content, _ = m["content"].(string)
				lesson.Confidence, _ = m["confidence"].(float64)
				a.lessons[modelID] = append(a.lessons[modelID], lesson)
			}
		}
	}

	if states, ok := state["model_states"].(map[string]any); ok {
		for modelID, raw := range states {
			m, isMap := raw.(map[string]any)
			if !isMap {
				continue
			}
			st := &consensus.ModelState{}
			st.Summary, _ = m["summary"].(string)
			if ts, isStr := m["updated_at"].(string); isStr {
				st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
			}
			a.modelStates[modelID] = st
		}
	}

	if todos, ok := state["todos"].([]any); ok {
		for _, item := range todos {
			m, isMap := item.(map[string]any)
			if !isMap {
				continue
			}
			todo := consensus.Todo{}
			todo.Content, _ = m["content"].(string)
			todo.State, _ = m["state"].(string)
			a.todos = append(a.todos, todo)
		}
	}

	if spent, ok := state["spent_usd"].(float64); ok {
		a.spentUSD = spent
	}
	if counter, ok := state["action_counter"].(float64); ok {
		a.actionCounter = int64(counter)
	}
}

func restoreEntries(raw any) []history.Entry {
	// Two shapes arrive here: []map[string]any straight from Persistable (the
	// in-memory backend) and []any after a JSON round trip (the databases).
	var maps []map[string]any
	switch list := raw.(type) {
	case []map[string]any:
		maps = list
	case []any:
		for _, item := range list {
			if m, isMap := item.(map[string]any); isMap {
				maps = append(maps, m)
			}
		}
	default:
		return nil
	}
	entries := make([]history.Entry, 0, len(maps))
	for _, m := range maps {
		e := history.Entry{}
		if typ, isStr := m["type"].(string); isStr {
			e.Type = history.EntryType(typ)
		}
		e.Content = restoreContent(m["content"], e.Type)
		if ts, isStr := m["timestamp"].(string); isStr {
			e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		}
		e.ActionID, _ = m["action_id"].(string)
		e.Result = m["result"]
		e.ActionType, _ = m["action_type"].(string)
		entries = append(entries, e)
	}
	return entries
}

func restoreContent(raw any, typ history.EntryType) any {
	if typ != history.TypeImage {
		return raw
	}
	var maps []map[string]any
	switch list := raw.(type) {
	case []map[string]any:
		maps = list
	case []any:
		for _, item := range list {
			if m, isMap := item.(map[string]any); isMap {
				maps = append(maps, m)
			}
		}
	default:
		return raw
	}
	parts := make([]history.Part, 0, len(maps))
	for _, m := range maps {
		p := history.Part{}
		p.Type, _ = m["type"].(string)
		p.Text, _ = m["text"].(string)
		p.Data, _ = m["data"].(string)
		p.MimeType, _ = m["mimeType"].(string)
		p.URL, _ = m["url"].(string)
		parts = append(parts, p)
	}
	return parts
}
