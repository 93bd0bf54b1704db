package consensus

import (
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/history"
	"github.com/nextlevelbuilder/gohive/internal/providers"
)

// defaultSystemPrompt is used when the agent config carries none. The
// decision contract (JSON body) is part of the prompt.
const defaultSystemPrompt = `You are an autonomous agent. Review the conversation and decide your ` +
	`next action. Respond with a single JSON object: {"action": "...", "params": {...}, ` +
	`"reasoning": "...", "wait": false, "auto_complete_todo": false}.`

// assembleMessages builds the full message list for one model. Both the
// primary query path and the retry-after-condensation path call this same
// function, so the retry never skips an injector.
//
// Order: history (chronological, same-role merged) → system prompt → ACE
// into the first user message → todos, children, budget into the last
// message → context token count into the last user message, at the very end.
// ctxLimit is the model's configured context window; 0 means unknown.
func assembleMessages(in Input, modelID string, lessons []Lesson, state *ModelState, ctxLimit int) []providers.Message {
	entries := history.Chronological(in.Histories[modelID])

	msgs := make([]providers.Message, 0, len(entries)+2)
	for _, e := range entries {
		msgs = append(msgs, entryToMessage(e))
	}
	msgs = mergeSameRole(msgs)

	if len(msgs) == 0 || msgs[len(msgs)-1].Role != "user" {
		// Injectors target user messages; guarantee one exists.
		msgs = append(msgs, providers.Message{Role: "user", Content: "Decide your next action."})
	}

	system := in.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	msgs = append([]providers.Message{{Role: "system", Content: system}}, msgs...)

	msgs = InjectACE(msgs, lessons, state)
	msgs = InjectTodos(msgs, in.Todos)
	msgs = InjectChildren(msgs, in.Children)
	msgs = InjectBudget(msgs, in.Budget)
	msgs = InjectContextTokens(msgs, ctxLimit)
	return msgs
}

// entryToMessage maps a history entry onto a provider message. Assistant and
// decision entries speak as the assistant; everything else is user input.
// Image entries become multimodal user messages with the entry timestamp as
// the text part, so the raw base64 never leaks into text content.
func entryToMessage(e history.Entry) providers.Message {
	role := "user"
	if e.Type == history.TypeAssistant || e.Type == history.TypeDecision {
		role = "assistant"
	}

	if e.Type == history.TypeImage {
		msg := providers.Message{Role: "user", Content: e.Timestamp.Format(time.RFC3339)}
		if parts, ok := e.Content.([]history.Part); ok {
			var texts []string
			for _, p := range parts {
				switch p.Type {
				case "text":
					texts = append(texts, p.Text)
				case "image":
					msg.Images = append(msg.Images, providers.ImageContent{
						MimeType: p.MimeType, Data: p.Data,
					})
				}
			}
			if len(texts) > 0 {
				msg.Content = msg.Content + "\n" + strings.Join(texts, "\n")
			}
		}
		return msg
	}

	return providers.Message{Role: role, Content: Stringify(e.Content)}
}

// mergeSameRole collapses consecutive same-role messages into one, preserving
// the strict user/assistant alternation downstream APIs require.
func mergeSameRole(msgs []providers.Message) []providers.Message {
	if len(msgs) < 2 {
		return msgs
	}
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		if len(out) > 0 && out[len(out)-1].Role == m.Role {
			prev := &out[len(out)-1]
			if m.Content != "" {
				if prev.Content != "" {
					prev.Content += "\n\n"
				}
				prev.Content += m.Content
			}
			prev.Images = append(prev.Images, m.Images...)
			continue
		}
		out = append(out, m)
	}
	return out
}

// InjectACE prepends <lessons> and <state> blocks to the first user message
// when either is non-empty.
func InjectACE(msgs []providers.Message, lessons []Lesson, state *ModelState) []providers.Message {
	if len(lessons) == 0 && (state == nil || state.Summary == "") {
		return msgs
	}
	idx := firstUserIndex(msgs)
	if idx < 0 {
		return msgs
	}

	var b strings.Builder
	if len(lessons) > 0 {
		b.WriteString("<lessons>\n")
		for _, l := range lessons {
			fmt.Fprintf(&b, "[%s] %s (confidence %.2f)\n", l.Type, l.Content, l.Confidence)
		}
		b.WriteString("</lessons>\n")
	}
	if state != nil && state.Summary != "" {
		fmt.Fprintf(&b, "<state>%s</state>\n", state.Summary)
	}

	msgs[idx].Content = b.String() + msgs[idx].Content
	return msgs
}

// InjectTodos appends a <todos> block to the last message when todos exist.
func InjectTodos(msgs []providers.Message, todos []Todo) []providers.Message {
	if len(todos) == 0 || len(msgs) == 0 {
		return msgs
	}
	var b strings.Builder
	b.WriteString("\n<todos>\n")
	for _, t := range todos {
		mark := " "
		switch t.State {
		case "pending":
			mark = "~"
		case "done":
			mark = "x"
		}
		fmt.Fprintf(&b, "[%s] %s\n", mark, t.Content)
	}
	b.WriteString("</todos>")
	msgs[len(msgs)-1].Content += b.String()
	return msgs
}

// InjectChildren appends a <children> block to the last message.
func InjectChildren(msgs []providers.Message, children []ChildInfo) []providers.Message {
	if len(children) == 0 || len(msgs) == 0 {
		return msgs
	}
	var b strings.Builder
	b.WriteString("\n<children>\n")
	for _, c := range children {
		fmt.Fprintf(&b, "%s (spawned %s)\n", c.ChildID, c.SpawnedAt.Format(time.RFC3339))
	}
	b.WriteString("</children>")
	msgs[len(msgs)-1].Content += b.String()
	return msgs
}

// InjectBudget appends a <budget> block to the last message.
func InjectBudget(msgs []providers.Message, budget *Budget) []providers.Message {
	if budget == nil || len(msgs) == 0 {
		return msgs
	}
	msgs[len(msgs)-1].Content += fmt.Sprintf(
		"\n<budget>spent $%.4f of $%.2f</budget>", budget.SpentUSD, budget.LimitUSD)
	return msgs
}

// InjectContextTokens appends the token estimate to the last user message,
// against the model's context window when one is configured. Runs after
// every other injector so the count covers the final list.
func InjectContextTokens(msgs []providers.Message, limit int) []providers.Message {
	idx := lastUserIndex(msgs)
	if idx < 0 {
		return msgs
	}
	est := EstimateTokens(msgs)
	if limit > 0 {
		msgs[idx].Content += fmt.Sprintf("\n<ctx>%d of %d tokens in context</ctx>", est, limit)
	} else {
		msgs[idx].Content += fmt.Sprintf("\n<ctx>%d tokens in context</ctx>", est)
	}
	return msgs
}

func firstUserIndex(msgs []providers.Message) int {
	for i, m := range msgs {
		if m.Role == "user" {
			return i
		}
	}
	return -1
}

func lastUserIndex(msgs []providers.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return i
		}
	}
	return -1
}
