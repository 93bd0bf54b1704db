package history

import (
	"encoding/json"
	"time"
)

// Persistable converts the set to a JSON-safe map for the agent store:
// entry types become strings, timestamps RFC3339, part lists plain maps.
func (s Set) Persistable() map[string]any {
	out := make(map[string]any, len(s))
	for modelID, entries := range s {
		list := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			m := map[string]any{
				"type":      string(e.Type),
				"content":   persistableContent(e.Content),
				"timestamp": e.Timestamp.Format(time.RFC3339Nano),
			}
			if e.ActionID != "" {
				m["action_id"] = e.ActionID
			}
			if e.Result != nil {
				m["result"] = persistableContent(e.Result)
			}
			if e.ActionType != "" {
				m["action_type"] = e.ActionType
			}
			list = append(list, m)
		}
		out[modelID] = list
	}
	return out
}

func persistableContent(v any) any {
	switch c := v.(type) {
	case nil:
		return nil
	case string:
		return c
	case []Part:
		parts := make([]map[string]any, 0, len(c))
		for _, p := range c {
			pm := map[string]any{"type": p.Type}
			if p.Text != "" {
				pm["text"] = p.Text
			}
			if p.Data != "" {
				pm["data"] = p.Data
			}
			if p.MimeType != "" {
				pm["mimeType"] = p.MimeType
			}
			if p.URL != "" {
				pm["url"] = p.URL
			}
			parts = append(parts, pm)
		}
		return parts
	default:
		// Anything else round-trips through JSON so the stored form holds
		// only maps, slices, and primitives.
		b, err := json.Marshal(c)
		if err != nil {
			return nil
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return nil
		}
		return out
	}
}
