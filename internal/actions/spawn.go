package actions

import (
	"context"
	"fmt"
)

// SpawnAction starts a child agent under the dispatching agent.
type SpawnAction struct {
	spawner Spawner
}

func NewSpawnAction(spawner Spawner) *SpawnAction {
	return &SpawnAction{spawner: spawner}
}

func (a *SpawnAction) Name() string            { return "spawn" }
func (a *SpawnAction) CapabilityGroup() string { return "agents" }
func (a *SpawnAction) Description() string     { return "Spawn a child agent with its own task" }

func (a *SpawnAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "The child's task prompt",
			},
			"model_pool": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional model pool override for the child",
			},
			"capability_groups": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Capability groups granted to the child",
			},
		},
		"required": []string{"prompt"},
	}
}

func (a *SpawnAction) Execute(ctx context.Context, params map[string]any) *Result {
	parentID := AgentIDFromCtx(ctx)
	if parentID == "" {
		return ErrorResult("no agent in context")
	}
	prompt, _ := params["prompt"].(string)
	if prompt == "" {
		return ErrorResult("prompt is required")
	}

	childID, err := a.spawner.SpawnChild(ctx, parentID, params)
	if err != nil {
		return ErrorResult(fmt.Sprintf("spawn child: %v", err)).WithError(err)
	}
	return NewResult(map[string]any{"child_id": childID})
}

// TerminateChildAction stops one of the dispatching agent's children.
type TerminateChildAction struct {
	spawner Spawner
}

func NewTerminateChildAction(spawner Spawner) *TerminateChildAction {
	return &TerminateChildAction{spawner: spawner}
}

func (a *TerminateChildAction) Name() string            { return "terminate_child" }
func (a *TerminateChildAction) CapabilityGroup() string { return "agents" }
func (a *TerminateChildAction) Description() string     { return "Terminate a child agent" }

func (a *TerminateChildAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"child_id": map[string]any{
				"type":        "string",
				"description": "The child agent to terminate",
			},
		},
		"required": []string{"child_id"},
	}
}

func (a *TerminateChildAction) Execute(ctx context.Context, params map[string]any) *Result {
	parentID := AgentIDFromCtx(ctx)
	if parentID == "" {
		return ErrorResult("no agent in context")
	}
	childID, _ := params["child_id"].(string)
	if childID == "" {
		return ErrorResult("child_id is required")
	}
	if err := a.spawner.TerminateChild(ctx, parentID, childID); err != nil {
		return ErrorResult(fmt.Sprintf("terminate child: %v", err)).WithError(err)
	}
	return NewResult(map[string]any{"terminated": childID})
}
