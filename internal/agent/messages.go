package agent

import (
	"time"

	"github.com/nextlevelbuilder/gohive/internal/consensus"
	"github.com/nextlevelbuilder/gohive/internal/history"
	"github.com/nextlevelbuilder/gohive/internal/router"
)

// Inbound mailbox messages. One handler each; everything except the reply
// channels on sync requests is fire-and-forget.

type msgAgentMessage struct {
	From    string
	Content string
}

type msgActionResult struct {
	ActionID   string
	ActionType string
	Result     any
	IsError    bool
	Router     *router.Router
}

type msgTriggerConsensus struct{}

type msgWaitExpired struct {
	Generation int64
}

type msgRouterDown struct {
	Router *router.Router
}

type msgParentDown struct{}

type msgChildDown struct {
	ChildID string
}

type msgMarkFirstTodoDone struct{}

// msgRoutersStopped is posted by teardown's stopper goroutine once every
// active router has drained, releasing the serving loop.
type msgRoutersStopped struct{}

// Synchronous requests carry a reply channel and serialize with the mailbox.

type msgGetState struct {
	reply chan StateSnapshot
}

type msgGetHistories struct {
	reply chan history.Set
}

type msgGetPendingActions struct {
	reply chan map[string]PendingAction
}

type msgGetWaitTimer struct {
	reply chan *WaitTimer
}

type msgSetDismissing struct {
	value bool
	reply chan struct{}
}

type msgIsDismissing struct {
	reply chan bool
}

type msgAddPendingAction struct {
	actionID   string
	actionType string
	params     map[string]any
	acked      bool
	reply      chan struct{}
}

type msgProcessAction struct {
	action consensus.ActionResponse
	reply  chan error
}

type msgSetModelPool struct {
	pool  []string
	reply chan struct{}
}

type msgShellCall struct {
	commandID string
	terminate bool
	reply     chan shellReply
}

type shellReply struct {
	status map[string]any
	err    error
}

type msgTodoOp struct {
	op      string // "add", "set_state", "list"
	content string
	index   int
	state   string
	reply   chan todoReply
}

type todoReply struct {
	todos []consensus.Todo
	err   error
}

// PendingAction tracks one dispatched, unresolved action.
type PendingAction struct {
	Type   string
	Params map[string]any
	TS     time.Time
	Acked  bool
}

// WaitTimer is the agent's single timer. Generation guards stale wake-ups.
type WaitTimer struct {
	Generation int64
	Timed      bool // false = waiting for external input only
	Seconds    float64
}
