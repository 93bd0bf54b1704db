package actions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/gohive/internal/telemetry"
)

// SubResult is one sub-action outcome inside a batch. The router delivers
// each as its own action-result message so histories record them separately.
type SubResult struct {
	ActionID string  `json:"action_id"`
	Action   string  `json:"action"`
	Result   *Result `json:"result"`
}

// BatchSyncAction executes a list of sub-actions sequentially, in order.
// Sub-actions are capability-checked individually; a denied or failed
// sub-action stops the batch.
type BatchSyncAction struct {
	registry *Registry
}

func NewBatchSyncAction(registry *Registry) *BatchSyncAction {
	return &BatchSyncAction{registry: registry}
}

func (a *BatchSyncAction) Name() string            { return "batch_sync" }
func (a *BatchSyncAction) CapabilityGroup() string { return "core" }
func (a *BatchSyncAction) Description() string {
	return "Execute several actions sequentially in one dispatch"
}

func (a *BatchSyncAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"actions": map[string]any{
				"type":        "array",
				"description": `List of {"action": name, "params": {...}}`,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action": map[string]any{"type": "string"},
						"params": map[string]any{"type": "object"},
					},
					"required": []string{"action"},
				},
			},
		},
		"required": []string{"actions"},
	}
}

func (a *BatchSyncAction) Execute(ctx context.Context, params map[string]any) *Result {
	list, ok := params["actions"].([]any)
	if !ok || len(list) == 0 {
		return ErrorResult("actions is required and must be a non-empty list")
	}

	groups := CapabilityGroupsFromCtx(ctx)
	tracer := telemetry.Tracer("gohive/actions")

	subs := make([]SubResult, 0, len(list))
	for i, item := range list {
		spec, ok := item.(map[string]any)
		if !ok {
			return a.failBatch(subs, fmt.Sprintf("actions[%d] is not an object", i))
		}
		name, _ := spec["action"].(string)
		subParams, _ := spec["params"].(map[string]any)
		if subParams == nil {
			subParams = map[string]any{}
		}

		act, err := a.registry.Get(name)
		if err != nil {
			return a.failBatch(subs, err.Error())
		}
		if name == a.Name() {
			return a.failBatch(subs, "batch_sync cannot nest itself")
		}
		if !Allowed(act, groups) {
			return a.failBatch(subs, fmt.Sprintf("%v: %s", ErrActionNotAllowed, name))
		}
		if _, isShell := act.(*ShellAction); isShell {
			// The router owns a single shell slot; a batch cannot claim it.
			return a.failBatch(subs, "shell is not allowed inside batch_sync")
		}

		subCtx, span := tracer.Start(ctx, "action.execute")
		span.SetAttributes(
			attribute.String("action.type", name),
			attribute.Bool("action.batched", true),
		)
		res := act.Execute(subCtx, subParams)
		if res.IsError {
			span.SetStatus(codes.Error, fmt.Sprintf("%v", res.Content))
		}
		span.End()

		subs = append(subs, SubResult{ActionID: uuid.NewString(), Action: name, Result: res})
		if res.IsError {
			return a.batchResult(subs, true)
		}
	}
	return a.batchResult(subs, false)
}

func (a *BatchSyncAction) failBatch(subs []SubResult, msg string) *Result {
	subs = append(subs, SubResult{
		ActionID: uuid.NewString(),
		Action:   "batch_sync",
		Result:   ErrorResult(msg),
	})
	return a.batchResult(subs, true)
}

func (a *BatchSyncAction) batchResult(subs []SubResult, isError bool) *Result {
	return &Result{Content: subs, IsError: isError}
}
