package actions

import "context"

type ctxKey int

const (
	agentIDKey ctxKey = iota
	taskIDKey
	capabilityGroupsKey
)

// WithAgentID tags the context with the dispatching agent, so actions that
// call back into the runtime know who they act for.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// AgentIDFromCtx returns the dispatching agent id, or "".
func AgentIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(agentIDKey).(string)
	return id
}

// WithTaskID tags the context with the agent's task.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// TaskIDFromCtx returns the task id, or "".
func TaskIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey).(string)
	return id
}

// WithCapabilityGroups tags the context with the agent's capability grant so
// composite actions can re-check sub-actions.
func WithCapabilityGroups(ctx context.Context, groups []string) context.Context {
	return context.WithValue(ctx, capabilityGroupsKey, groups)
}

// CapabilityGroupsFromCtx returns the agent's capability grant, or nil.
func CapabilityGroupsFromCtx(ctx context.Context) []string {
	groups, _ := ctx.Value(capabilityGroupsKey).([]string)
	return groups
}
