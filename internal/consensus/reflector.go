package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/history"
	"github.com/nextlevelbuilder/gohive/internal/providers"
)

// ReflectorMessage is the reflector's input shape: role plus content that
// may be a string or a list of text/image parts.
type ReflectorMessage struct {
	Role    string
	Content any
}

// Reflection is the reflector's output: lessons worth keeping plus a running
// state summary, used to condense an overflowing history.
type Reflection struct {
	Lessons []Lesson     `json:"lessons"`
	State   []ModelState `json:"state"`
}

const reflectorPrompt = `You are a reflection assistant. Read the conversation below and extract:
1. "lessons": durable facts or behavioral corrections worth remembering, each as
   {"type": "factual"|"behavioral", "content": "...", "confidence": 0.0-1.0}
2. "state": a running summary of where the work stands, as [{"summary": "..."}]

Respond with a single JSON object {"lessons": [...], "state": [...]} and nothing else.

Conversation:
`

// Reflector condenses a model's history into lessons and state.
type Reflector struct {
	models *providers.Registry
}

func NewReflector(models *providers.Registry) *Reflector {
	return &Reflector{models: models}
}

// Reflect runs the reflection prompt over the stringified conversation.
// Multimodal parts are stringified with text verbatim and images replaced by
// [Image] / [Image: url] markers.
func (r *Reflector) Reflect(ctx context.Context, modelID string, msgs []ReflectorMessage) (*Reflection, *providers.Usage, error) {
	var b strings.Builder
	b.WriteString(reflectorPrompt)
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, Stringify(m.Content))
	}

	resp, err := r.models.Query(ctx, modelID, providers.ChatRequest{
		Messages:    []providers.Message{{Role: "user", Content: b.String()}},
		MaxTokens:   2048,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reflector: %w", err)
	}

	refl, err := parseReflection(resp.Content)
	if err != nil {
		return nil, resp.Usage, fmt.Errorf("reflector: %w", err)
	}
	return refl, resp.Usage, nil
}

func parseReflection(raw string) (*Reflection, error) {
	body, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var refl Reflection
	if err := json.Unmarshal([]byte(body), &refl); err != nil {
		return nil, fmt.Errorf("parse reflection: %w", err)
	}
	now := time.Now().UTC()
	for i := range refl.State {
		if refl.State[i].UpdatedAt.IsZero() {
			refl.State[i].UpdatedAt = now
		}
	}
	return &refl, nil
}

// toReflectorMessages converts chronological history entries into the
// reflector input contract.
func toReflectorMessages(entries []history.Entry) []ReflectorMessage {
	out := make([]ReflectorMessage, 0, len(entries))
	for _, e := range entries {
		role := "user"
		if e.Type == history.TypeAssistant || e.Type == history.TypeDecision {
			role = "assistant"
		}
		out = append(out, ReflectorMessage{Role: role, Content: e.Content})
	}
	return out
}
