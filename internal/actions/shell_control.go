package actions

import (
	"context"
	"fmt"
)

// ShellController looks up background commands owned by an agent's routers.
// Implemented by the runtime wiring so this package never imports the agent
// package.
type ShellController interface {
	ShellStatus(ctx context.Context, agentID, commandID string) (map[string]any, error)
	ShellTerminate(ctx context.Context, agentID, commandID string) (map[string]any, error)
}

// ShellStatusAction polls a background command started by a prior shell
// dispatch.
type ShellStatusAction struct {
	shells ShellController
}

func NewShellStatusAction(shells ShellController) *ShellStatusAction {
	return &ShellStatusAction{shells: shells}
}

func (a *ShellStatusAction) Name() string            { return "shell_status" }
func (a *ShellStatusAction) CapabilityGroup() string { return "shell" }
func (a *ShellStatusAction) Description() string {
	return "Check on a background shell command by its command_id"
}

func (a *ShellStatusAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command_id": map[string]any{
				"type":        "string",
				"description": "Id returned by a backgrounded shell action",
			},
		},
		"required": []string{"command_id"},
	}
}

func (a *ShellStatusAction) Execute(ctx context.Context, params map[string]any) *Result {
	agentID := AgentIDFromCtx(ctx)
	if agentID == "" {
		return ErrorResult("no agent in context")
	}
	commandID, _ := params["command_id"].(string)
	if commandID == "" {
		return ErrorResult("command_id is required")
	}
	status, err := a.shells.ShellStatus(ctx, agentID, commandID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("command_not_found: %v", err)).WithError(err)
	}
	return NewResult(status)
}

// ShellTerminateAction kills a background command started by a prior shell
// dispatch.
type ShellTerminateAction struct {
	shells ShellController
}

func NewShellTerminateAction(shells ShellController) *ShellTerminateAction {
	return &ShellTerminateAction{shells: shells}
}

func (a *ShellTerminateAction) Name() string            { return "shell_terminate" }
func (a *ShellTerminateAction) CapabilityGroup() string { return "shell" }
func (a *ShellTerminateAction) Description() string {
	return "Terminate a background shell command by its command_id"
}

func (a *ShellTerminateAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command_id": map[string]any{
				"type":        "string",
				"description": "Id returned by a backgrounded shell action",
			},
		},
		"required": []string{"command_id"},
	}
}

func (a *ShellTerminateAction) Execute(ctx context.Context, params map[string]any) *Result {
	agentID := AgentIDFromCtx(ctx)
	if agentID == "" {
		return ErrorResult("no agent in context")
	}
	commandID, _ := params["command_id"].(string)
	if commandID == "" {
		return ErrorResult("command_id is required")
	}
	status, err := a.shells.ShellTerminate(ctx, agentID, commandID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("command_not_found: %v", err)).WithError(err)
	}
	return NewResult(status)
}
