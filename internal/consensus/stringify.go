package consensus

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/gohive/internal/history"
)

// Stringify turns arbitrary message content into a printable string for
// reflector prompts. Text parts pass through verbatim; images become
// "[Image]" or "[Image: url]"; maps fall back to JSON.
func Stringify(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	case history.Part:
		return stringifyPart(map[string]any{
			"type": c.Type, "text": c.Text, "url": c.URL,
		})
	case []history.Part:
		parts := make([]string, 0, len(c))
		for _, p := range c {
			parts = append(parts, Stringify(p))
		}
		return strings.Join(parts, "\n")
	case []any:
		parts := make([]string, 0, len(c))
		for _, item := range c {
			parts = append(parts, Stringify(item))
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		if _, hasType := c["type"]; hasType {
			return stringifyPart(c)
		}
		if text, ok := c["text"].(string); ok {
			return text
		}
		return jsonFallback(c)
	default:
		return jsonFallback(c)
	}
}

func stringifyPart(part map[string]any) string {
	typ, _ := part["type"].(string)
	switch typ {
	case "text":
		text, _ := part["text"].(string)
		return text
	case "image", "image_url":
		if url, ok := part["url"].(string); ok && url != "" {
			return fmt.Sprintf("[Image: %s]", url)
		}
		return "[Image]"
	default:
		return jsonFallback(part)
	}
}

func jsonFallback(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
