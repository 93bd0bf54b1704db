package consensus

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// maxFormattedLen bounds formatted entries so one giant action result cannot
// blow up every model's context.
const maxFormattedLen = 16_000

// FormatAgentMessage wraps an inbound agent message for history storage.
func FormatAgentMessage(from, content string) string {
	return formatTagged("agent_message", map[string]any{"from": from, "content": content})
}

// FormatActionResult wraps an action result for history storage.
func FormatActionResult(actionID, actionType string, result any) string {
	return formatTagged("action_result", map[string]any{
		"action_id":   actionID,
		"action_type": actionType,
		"result":      result,
	})
}

// FormatSystemEvent wraps a runtime event (child spawned, child died, …).
func FormatSystemEvent(event string, detail map[string]any) string {
	payload := map[string]any{"event": event}
	for k, v := range detail {
		payload[k] = v
	}
	return formatTagged("system_event", payload)
}

// FormatTimeout wraps a wait-timer expiry.
func FormatTimeout(waitedSeconds float64) string {
	return formatTagged("timeout", map[string]any{"waited_seconds": waitedSeconds})
}

// FormatUnknown wraps an entry the runtime does not recognize, preserving it
// rather than dropping it.
func FormatUnknown(v any) string {
	return formatTagged("unknown", map[string]any{"value": Stringify(v)})
}

func formatTagged(tag string, payload map[string]any) string {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(fmt.Sprintf(`{"error":"unserializable %s"}`, tag))
	}
	s := string(body)
	if len(s) > maxFormattedLen {
		// Back up to a rune boundary so the cut never splits a multi-byte
		// character.
		cut := maxFormattedLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + `…(truncated)`
	}
	return fmt.Sprintf("<%s>%s</%s>", tag, s, tag)
}
