package actions

import "context"

// Spawner starts and stops child agents. Implemented by the runtime wiring
// so the actions package never imports the agent package.
type Spawner interface {
	SpawnChild(ctx context.Context, parentID string, params map[string]any) (childID string, err error)
	TerminateChild(ctx context.Context, parentID, childID string) error
}

// Messenger delivers a message from one agent to another (or to a user
// thread via the bus).
type Messenger interface {
	Send(ctx context.Context, from, to, content, thread string) error
}

// TodoItem mirrors the agent's todo record for the todo action.
type TodoItem struct {
	Content string `json:"content"`
	State   string `json:"state"`
}

// TodoController mutates an agent's todo list through its mailbox.
type TodoController interface {
	AddTodo(ctx context.Context, agentID, content string) error
	SetTodoState(ctx context.Context, agentID string, index int, state string) error
	ListTodos(ctx context.Context, agentID string) ([]TodoItem, error)
}

// OrientFunc produces a situational summary for an agent, typically by
// running the reflector over its histories.
type OrientFunc func(ctx context.Context, agentID, focus string) (map[string]any, error)
