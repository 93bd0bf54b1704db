package actions

import (
	"context"
	"fmt"
)

// SendMessageAction delivers a message from the dispatching agent to another
// agent (by id) or to its parent.
type SendMessageAction struct {
	messenger Messenger
}

func NewSendMessageAction(messenger Messenger) *SendMessageAction {
	return &SendMessageAction{messenger: messenger}
}

func (a *SendMessageAction) Name() string            { return "send_message" }
func (a *SendMessageAction) CapabilityGroup() string { return "agents" }
func (a *SendMessageAction) Description() string {
	return "Send a message to another agent or to the parent"
}

func (a *SendMessageAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to": map[string]any{
				"type":        "string",
				"description": `Recipient agent id, or "parent"`,
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Message text",
			},
			"thread": map[string]any{
				"type":        "string",
				"description": "Optional thread id for broadcast topics",
			},
		},
		"required": []string{"to", "content"},
	}
}

func (a *SendMessageAction) Execute(ctx context.Context, params map[string]any) *Result {
	from := AgentIDFromCtx(ctx)
	if from == "" {
		return ErrorResult("no agent in context")
	}
	to, _ := params["to"].(string)
	content, _ := params["content"].(string)
	if to == "" || content == "" {
		return ErrorResult("to and content are required")
	}
	thread, _ := params["thread"].(string)

	if err := a.messenger.Send(ctx, from, to, content, thread); err != nil {
		return ErrorResult(fmt.Sprintf("send message: %v", err)).WithError(err)
	}
	return NewResult(map[string]any{"delivered_to": to})
}
