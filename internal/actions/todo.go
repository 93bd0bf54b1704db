package actions

import (
	"context"
	"fmt"
)

// TodoAction mutates the dispatching agent's todo list. Self-contained: the
// effect completes inside the router.
type TodoAction struct {
	todos TodoController
}

func NewTodoAction(todos TodoController) *TodoAction {
	return &TodoAction{todos: todos}
}

func (a *TodoAction) Name() string            { return "todo" }
func (a *TodoAction) CapabilityGroup() string { return "core" }
func (a *TodoAction) Description() string     { return "Add, update, or list the agent's todos" }

func (a *TodoAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"op": map[string]any{
				"type":        "string",
				"description": "One of: add, done, pending, list",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Todo text (op=add)",
			},
			"index": map[string]any{
				"type":        "integer",
				"description": "Todo index (op=done/pending)",
			},
		},
		"required": []string{"op"},
	}
}

func (a *TodoAction) Execute(ctx context.Context, params map[string]any) *Result {
	agentID := AgentIDFromCtx(ctx)
	if agentID == "" {
		return ErrorResult("no agent in context")
	}
	op, _ := params["op"].(string)

	switch op {
	case "add":
		content, _ := params["content"].(string)
		if content == "" {
			return ErrorResult("content is required for op=add")
		}
		if err := a.todos.AddTodo(ctx, agentID, content); err != nil {
			return ErrorResult(fmt.Sprintf("add todo: %v", err)).WithError(err)
		}
		return NewResult(map[string]any{"op": "add", "content": content})
	case "done", "pending":
		idx, ok := intParam(params, "index")
		if !ok {
			return ErrorResult(fmt.Sprintf("index is required for op=%s", op))
		}
		if err := a.todos.SetTodoState(ctx, agentID, idx, op); err != nil {
			return ErrorResult(fmt.Sprintf("update todo: %v", err)).WithError(err)
		}
		return NewResult(map[string]any{"op": op, "index": idx})
	case "list":
		items, err := a.todos.ListTodos(ctx, agentID)
		if err != nil {
			return ErrorResult(fmt.Sprintf("list todos: %v", err)).WithError(err)
		}
		return NewResult(map[string]any{"op": "list", "todos": items})
	default:
		return ErrorResult(fmt.Sprintf("unknown todo op %q", op))
	}
}

// intParam reads a numeric param that JSON decoding may have produced as
// float64.
func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
