package consensus

import (
	"github.com/nextlevelbuilder/gohive/internal/history"
)

// DetectImage classifies an action result. When the result (or its nested
// "result"/"content" fields) carries image data, it returns the multimodal
// parts for an image history entry; otherwise ok is false and the caller
// stores the original result as text.
func DetectImage(result any) (parts []history.Part, ok bool) {
	switch r := result.(type) {
	case map[string]any:
		if p, found := imagePart(r); found {
			return []history.Part{p}, true
		}
		// Common wrappers: {"result": {...}} or {"content": [...]}.
		if nested, has := r["result"]; has {
			if parts, ok = DetectImage(nested); ok {
				return parts, true
			}
		}
		if nested, has := r["content"]; has {
			return DetectImage(nested)
		}
	case []any:
		var found bool
		for _, item := range r {
			m, isMap := item.(map[string]any)
			if !isMap {
				continue
			}
			if p, isImg := imagePart(m); isImg {
				parts = append(parts, p)
				found = true
			} else if text, isText := m["text"].(string); isText {
				parts = append(parts, history.Part{Type: "text", Text: text})
			}
		}
		if found {
			return parts, true
		}
	}
	return nil, false
}

func imagePart(m map[string]any) (history.Part, bool) {
	typ, _ := m["type"].(string)
	if typ != "image" {
		return history.Part{}, false
	}
	data, _ := m["data"].(string)
	mime, _ := m["mimeType"].(string)
	if mime == "" {
		mime, _ = m["mime_type"].(string)
	}
	url, _ := m["url"].(string)
	if data == "" && url == "" {
		return history.Part{}, false
	}
	if mime == "" {
		mime = "image/png"
	}
	return history.Part{Type: "image", Data: data, MimeType: mime, URL: url}, true
}
