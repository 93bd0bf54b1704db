package actions

import (
	"context"
	"fmt"
)

// OrientAction asks the reflector for a situational summary of the agent's
// own history. Self-contained.
type OrientAction struct {
	orient OrientFunc
}

func NewOrientAction(orient OrientFunc) *OrientAction {
	return &OrientAction{orient: orient}
}

func (a *OrientAction) Name() string            { return "orient" }
func (a *OrientAction) CapabilityGroup() string { return "core" }
func (a *OrientAction) Description() string {
	return "Reflect on the conversation so far and summarize where the work stands"
}

func (a *OrientAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"focus": map[string]any{
				"type":        "string",
				"description": "Optional question to focus the reflection on",
			},
		},
	}
}

func (a *OrientAction) Execute(ctx context.Context, params map[string]any) *Result {
	agentID := AgentIDFromCtx(ctx)
	if agentID == "" {
		return ErrorResult("no agent in context")
	}
	focus, _ := params["focus"].(string)

	summary, err := a.orient(ctx, agentID, focus)
	if err != nil {
		return ErrorResult(fmt.Sprintf("orient: %v", err)).WithError(err)
	}
	return NewResult(summary)
}
