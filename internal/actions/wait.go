package actions

import "context"

// WaitAction is a no-op: the agent interprets the decision's wait field and
// arms its own timer. Registered so the consensus contract's "wait" decision
// resolves to a real action and the capability check stays uniform.
type WaitAction struct{}

func NewWaitAction() *WaitAction { return &WaitAction{} }

func (a *WaitAction) Name() string            { return "wait" }
func (a *WaitAction) CapabilityGroup() string { return "core" }
func (a *WaitAction) Description() string     { return "Wait for external input or a timer" }

func (a *WaitAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"seconds": map[string]any{
				"type":        "number",
				"description": "Optional wait duration; omit to wait for input",
			},
		},
	}
}

func (a *WaitAction) Execute(_ context.Context, params map[string]any) *Result {
	if secs, ok := params["seconds"].(float64); ok && secs > 0 {
		return NewResult(map[string]any{"status": "waiting", "seconds": secs})
	}
	return NewResult(map[string]any{"status": "waiting"})
}
