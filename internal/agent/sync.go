package agent

import (
	"fmt"

	"github.com/nextlevelbuilder/gohive/internal/consensus"
	"github.com/nextlevelbuilder/gohive/internal/history"
	"github.com/nextlevelbuilder/gohive/internal/router"
)

// Synchronous accessors. Each posts a request through the mailbox and waits
// for the run loop's reply, so reads always see a consistent state. A
// terminated agent answers with zero values rather than blocking callers.

// GetState returns a snapshot of the agent's state.
func (a *Agent) GetState() StateSnapshot {
	req := msgGetState{reply: make(chan StateSnapshot, 1)}
	if !a.mbox.push(req) {
		return StateSnapshot{AgentID: a.cfg.AgentID, TaskID: a.cfg.TaskID, Status: "terminated"}
	}
	return <-req.reply
}

// GetModelHistories returns a copy of the per-model histories.
func (a *Agent) GetModelHistories() history.Set {
	req := msgGetHistories{reply: make(chan history.Set, 1)}
	if !a.mbox.push(req) {
		return history.Set{}
	}
	return <-req.reply
}

// GetPendingActions returns the in-flight action map.
func (a *Agent) GetPendingActions() map[string]PendingAction {
	req := msgGetPendingActions{reply: make(chan map[string]PendingAction, 1)}
	if !a.mbox.push(req) {
		return map[string]PendingAction{}
	}
	return <-req.reply
}

// GetWaitTimer returns the active wait timer, or nil.
func (a *Agent) GetWaitTimer() *WaitTimer {
	req := msgGetWaitTimer{reply: make(chan *WaitTimer, 1)}
	if !a.mbox.push(req) {
		return nil
	}
	return <-req.reply
}

// SetDismissing flips the dismissing flag; while set, consensus cycles and
// dispatches are refused.
func (a *Agent) SetDismissing(v bool) {
	req := msgSetDismissing{value: v, reply: make(chan struct{}, 1)}
	if !a.mbox.push(req) {
		return
	}
	<-req.reply
}

// IsDismissing reports the dismissing flag.
func (a *Agent) IsDismissing() bool {
	req := msgIsDismissing{reply: make(chan bool, 1)}
	if !a.mbox.push(req) {
		return false
	}
	return <-req.reply
}

// AddPendingAction registers an externally dispatched action (test harnesses
// and restoration use this; normal dispatch registers its own).
func (a *Agent) AddPendingAction(actionID, actionType string, params map[string]any, acked bool) {
	req := msgAddPendingAction{
		actionID: actionID, actionType: actionType, params: params, acked: acked,
		reply: make(chan struct{}, 1),
	}
	if !a.mbox.push(req) {
		return
	}
	<-req.reply
}

// ProcessAction dispatches an action as if consensus had chosen it.
func (a *Agent) ProcessAction(action consensus.ActionResponse) error {
	req := msgProcessAction{action: action, reply: make(chan error, 1)}
	if !a.mbox.push(req) {
		return fmt.Errorf("agent terminated")
	}
	return <-req.reply
}

// SetModelPool swaps the model pool at runtime, rekeying histories so every
// new pool member starts from the current canonical view.
func (a *Agent) SetModelPool(pool []string) {
	req := msgSetModelPool{pool: pool, reply: make(chan struct{}, 1)}
	if !a.mbox.push(req) {
		return
	}
	<-req.reply
}

// ShellStatus reports a background command tracked by one of this agent's
// routers. Unknown ids return router.ErrCommandNotFound.
func (a *Agent) ShellStatus(commandID string) (map[string]any, error) {
	req := msgShellCall{commandID: commandID, reply: make(chan shellReply, 1)}
	if !a.mbox.push(req) {
		return nil, router.ErrCommandNotFound
	}
	rep := <-req.reply
	return rep.status, rep.err
}

// ShellTerminate kills a background command tracked by one of this agent's
// routers.
func (a *Agent) ShellTerminate(commandID string) (map[string]any, error) {
	req := msgShellCall{commandID: commandID, terminate: true, reply: make(chan shellReply, 1)}
	if !a.mbox.push(req) {
		return nil, router.ErrCommandNotFound
	}
	rep := <-req.reply
	return rep.status, rep.err
}

// AddTodo appends a todo item.
func (a *Agent) AddTodo(content string) ([]consensus.Todo, error) {
	return a.todoOp(msgTodoOp{op: "add", content: content})
}

// SetTodoState updates one todo by index.
func (a *Agent) SetTodoState(index int, state string) ([]consensus.Todo, error) {
	return a.todoOp(msgTodoOp{op: "set_state", index: index, state: state})
}

// ListTodos returns the current todo list.
func (a *Agent) ListTodos() ([]consensus.Todo, error) {
	return a.todoOp(msgTodoOp{op: "list"})
}

func (a *Agent) todoOp(op msgTodoOp) ([]consensus.Todo, error) {
	op.reply = make(chan todoReply, 1)
	if !a.mbox.push(op) {
		return nil, fmt.Errorf("agent terminated")
	}
	rep := <-op.reply
	return rep.todos, rep.err
}
