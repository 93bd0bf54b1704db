package actions

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/gohive/internal/mcp"
)

// McpAction calls a tool on the agent's connected MCP server.
type McpAction struct {
	manager *mcp.Manager
}

func NewMcpAction(manager *mcp.Manager) *McpAction {
	return &McpAction{manager: manager}
}

func (a *McpAction) Name() string            { return "mcp" }
func (a *McpAction) CapabilityGroup() string { return "mcp" }
func (a *McpAction) Description() string     { return "Call a tool on the agent's MCP server" }

func (a *McpAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tool": map[string]any{
				"type":        "string",
				"description": "MCP tool name",
			},
			"arguments": map[string]any{
				"type":        "object",
				"description": "Tool arguments",
			},
		},
		"required": []string{"tool"},
	}
}

func (a *McpAction) Execute(ctx context.Context, params map[string]any) *Result {
	agentID := AgentIDFromCtx(ctx)
	if agentID == "" {
		return ErrorResult("no agent in context")
	}
	tool, _ := params["tool"].(string)
	if tool == "" {
		return ErrorResult("tool is required")
	}
	args, _ := params["arguments"].(map[string]any)

	client := a.manager.ClientFor(agentID)
	if client == nil {
		return ErrorResult("no MCP server connected for this agent")
	}
	result, err := client.CallTool(ctx, tool, args)
	if err != nil {
		return ErrorResult(fmt.Sprintf("mcp call: %v", err)).WithError(err)
	}
	return NewResult(result)
}
