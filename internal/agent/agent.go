// Package agent implements the actor at the heart of the runtime: a
// mailbox-serialized state machine that batches inbound messages, runs
// consensus across its model pool, dispatches the winning action to an
// ephemeral router, and folds the result back into its histories.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/config"
	"github.com/nextlevelbuilder/gohive/internal/consensus"
	"github.com/nextlevelbuilder/gohive/internal/history"
	"github.com/nextlevelbuilder/gohive/internal/registry"
	"github.com/nextlevelbuilder/gohive/internal/router"
	"github.com/nextlevelbuilder/gohive/internal/store"
	"github.com/nextlevelbuilder/gohive/pkg/protocol"
)

// Child is one live child agent.
type Child struct {
	ChildID   string
	Handle    Handle
	SpawnedAt time.Time
}

// StateSnapshot is the copy get_state returns; safe to read outside the
// mailbox.
type StateSnapshot struct {
	AgentID        string
	TaskID         string
	Status         string
	Dismissing     bool
	ModelPool      []string
	PendingActions map[string]PendingAction
	QueuedMessages int
	Todos          []consensus.Todo
	Children       []string
	ActionCounter  int64
	SpentUSD       float64
}

type msgTerminate struct {
	reply chan error
}

// mcpConnectTimeout bounds the stdio handshake with an agent's MCP server.
const mcpConnectTimeout = 30 * time.Second

// Agent owns the state in its run loop; every field below the mailbox is
// touched only by that goroutine.
type Agent struct {
	env  Env
	cfg  config.AgentConfig
	log  *slog.Logger
	mbox *mailbox

	done        chan struct{}
	termOnce    sync.Once
	failed      atomic.Bool
	termReplies []chan error

	status             string
	dismissing         bool
	modelPool          []string
	histories          history.Set
	pending            map[string]PendingAction
	activeRouters      map[*router.Router]struct{}
	shellRouters       map[string]*router.Router
	waitTimer          *WaitTimer
	timerGen           int64
	timer              *time.Timer
	consensusScheduled bool
	queued             []msgAgentMessage
	actionCounter      int64
	lessons            map[string][]consensus.Lesson
	modelStates        map[string]*consensus.ModelState
	todos              []consensus.Todo
	children           map[string]Child
	spentUSD           float64
	parent             Handle
}

// New validates the config, registers the agent, persists its birth record,
// broadcasts the spawn event, and starts the run loop.
func New(env Env, cfg config.AgentConfig) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool := []string(cfg.ModelPool)
	if pool == nil {
		// nil means "use the test default"; an explicit empty pool stays
		// empty and makes consensus impossible.
		pool = []string{"default"}
	}

	a := &Agent{
		env:           env,
		cfg:           cfg,
		log:           env.logger().With("agent_id", cfg.AgentID),
		mbox:          newMailbox(),
		done:          make(chan struct{}),
		status:        "initializing",
		modelPool:     pool,
		histories:     history.Rekey(pool, nil),
		pending:       make(map[string]PendingAction),
		activeRouters: make(map[*router.Router]struct{}),
		shellRouters:  make(map[string]*router.Router),
		lessons:       make(map[string][]consensus.Lesson),
		modelStates:   make(map[string]*consensus.ModelState),
		children:      make(map[string]Child),
	}
	if h, ok := cfg.ParentHandle.(Handle); ok {
		a.parent = h
	}
	if cfg.RestoredState != nil {
		a.restore(cfg.RestoredState)
	}

	err := env.Registry.Register(cfg.AgentID, a, registry.Meta{
		ParentHandle: cfg.ParentHandle,
		TaskID:       cfg.TaskID,
	})
	if err != nil {
		return nil, err
	}

	// Restoration rehydrates an agent that already has a persisted row and
	// an announced birth; only fresh spawns write and broadcast.
	if !cfg.RestorationMode {
		parentID := cfg.ParentID
		if parentID == "" && cfg.ParentHandle != nil {
			parentID, _ = env.Registry.IDFor(cfg.ParentHandle)
		}
		state := cfg.RestoredState
		if state == nil {
			state = map[string]any{}
		}
		rec := store.AgentRecord{
			AgentID:  cfg.AgentID,
			TaskID:   cfg.TaskID,
			ParentID: parentID,
			Status:   "initializing",
			Config:   agentConfigMap(cfg),
			State:    state,
		}
		if perr := env.Stores.Agents.PutAgent(context.Background(), rec); perr != nil {
			a.log.Warn("agent.persist_failed", "op", "put_agent", "error", perr)
		}

		if env.Bus != nil {
			env.Bus.Publish(protocol.TopicLifecycle, protocol.EventAgentSpawned, protocol.AgentSpawnedPayload{
				AgentID:  cfg.AgentID,
				TaskID:   cfg.TaskID,
				ParentID: cfg.ParentID,
			})
		}
	}

	if cfg.MCPServer != nil && env.MCP != nil {
		mctx, cancel := context.WithTimeout(context.Background(), mcpConnectTimeout)
		if _, merr := env.MCP.ConnectFor(mctx, cfg.AgentID, cfg.MCPServer.Command, []string(cfg.MCPServer.Args)...); merr != nil {
			// A dead MCP server must not block the spawn; the mcp action
			// reports the missing connection when the agent tries to use it.
			a.log.Warn("agent.mcp_connect_failed", "command", cfg.MCPServer.Command, "error", merr)
		}
		cancel()
	}

	if a.parent != nil {
		go func() {
			<-a.parent.Done()
			a.mbox.push(msgParentDown{})
		}()
	}

	a.status = "ready"
	if cfg.Prompt != "" {
		a.histories.Add(history.TypePrompt, cfg.Prompt)
		a.consensusScheduled = true
		a.mbox.push(msgTriggerConsensus{})
	}

	go a.run()
	return a, nil
}

// ID returns the agent's id.
func (a *Agent) ID() string { return a.cfg.AgentID }

// TaskID returns the agent's task.
func (a *Agent) TaskID() string { return a.cfg.TaskID }

// Done closes when the agent has fully terminated.
func (a *Agent) Done() <-chan struct{} { return a.done }

// SendAgentMessage delivers a message from another agent.
func (a *Agent) SendAgentMessage(from, content string) {
	a.mbox.push(msgAgentMessage{From: from, Content: content})
}

// SendUserMessage delivers a user message; users speak as the parent.
func (a *Agent) SendUserMessage(content string) {
	a.mbox.push(msgAgentMessage{From: "parent", Content: content})
}

// TriggerConsensus posts a consensus trigger. Subject to the staleness
// check: without a scheduled cycle or an active timer it is dropped.
func (a *Agent) TriggerConsensus() {
	a.mbox.push(msgTriggerConsensus{})
}

// Terminate shuts the agent down: routers stopped, children terminated, MCP
// closed, registry entries removed, termination broadcast. Idempotent.
func (a *Agent) Terminate(ctx context.Context) error {
	reply := make(chan error, 1)
	if !a.mbox.push(msgTerminate{reply: reply}) {
		return nil // already terminated
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return nil
	}
}

func (a *Agent) run() {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("agent.panic", "agent_id", a.cfg.AgentID, "panic", r)
			a.failed.Store(true)
			a.teardown()
		}
	}()
	for {
		msg, ok := a.mbox.pop()
		if !ok {
			return
		}
		if stop := a.handle(msg); stop {
			a.teardown()
			return
		}
	}
}

// Failed reports whether the run loop died from a panic rather than a clean
// shutdown. The supervisor restarts failed agents only.
func (a *Agent) Failed() bool { return a.failed.Load() }

func (a *Agent) handle(msg any) (stop bool) {
	switch m := msg.(type) {
	case msgAgentMessage:
		a.handleAgentMessage(m)
	case msgActionResult:
		a.handleActionResult(m)
	case msgTriggerConsensus:
		a.handleTrigger()
	case msgWaitExpired:
		a.handleWaitExpired(m)
	case msgRouterDown:
		a.handleRouterDown(m)
	case msgChildDown:
		a.handleChildDown(m)
	case msgMarkFirstTodoDone:
		a.markFirstTodoDone()
	case msgParentDown:
		a.log.Info("agent.parent_down")
		return true
	case msgTerminate:
		// Answered by teardown once the shutdown actually finished, so a
		// caller never sees success while routers are still draining.
		a.termReplies = append(a.termReplies, m.reply)
		return true

	case msgGetState:
		m.reply <- a.snapshot()
	case msgGetHistories:
		m.reply <- a.copyHistories()
	case msgGetPendingActions:
		out := make(map[string]PendingAction, len(a.pending))
		for k, v := range a.pending {
			out[k] = v
		}
		m.reply <- out
	case msgGetWaitTimer:
		if a.waitTimer == nil {
			m.reply <- nil
		} else {
			wt := *a.waitTimer
			m.reply <- &wt
		}
	case msgSetDismissing:
		a.dismissing = m.value
		if m.value {
			a.status = "dismissing"
		}
		m.reply <- struct{}{}
	case msgIsDismissing:
		m.reply <- a.dismissing
	case msgAddPendingAction:
		a.pending[m.actionID] = PendingAction{
			Type: m.actionType, Params: m.params, TS: time.Now().UTC(), Acked: m.acked,
		}
		m.reply <- struct{}{}
	case msgProcessAction:
		m.reply <- a.dispatch(m.action)
	case msgSetModelPool:
		a.modelPool = m.pool
		a.histories = history.Rekey(m.pool, a.histories[firstKey(a.histories)])
		m.reply <- struct{}{}
	case msgShellCall:
		m.reply <- a.handleShellCall(m)
	case msgTodoOp:
		m.reply <- a.handleTodoOp(m)

	default:
		// Never crash on a malformed inbound message.
		a.log.Warn("agent.unknown_message", "type", fmt.Sprintf("%T", msg))
		a.histories.Add(history.TypeEvent, consensus.FormatUnknown(msg))
	}
	return false
}

// teardown stops everything this agent owns. Router stops use an unbounded
// deadline so in-flight persistence can finish; while they drain, the agent
// keeps serving synchronous mailbox requests so a router-hosted action that
// calls back into its own agent can complete instead of wedging the shutdown.
func (a *Agent) teardown() {
	a.termOnce.Do(func() {
		ctx := context.Background()
		a.status = "terminating"

		a.stopRouters()
		a.activeRouters = map[*router.Router]struct{}{}
		a.shellRouters = map[string]*router.Router{}

		for _, child := range a.children {
			if child.Handle != nil {
				if err := child.Handle.Terminate(ctx); err != nil {
					a.log.Warn("agent.child_terminate_failed", "child_id", child.ChildID, "error", err)
				}
			}
		}

		if a.env.MCP != nil {
			a.env.MCP.CloseFor(a.cfg.AgentID)
		}

		a.clearTimer()
		a.env.Registry.Unregister(a.cfg.AgentID)
		if a.env.Bus != nil {
			a.env.Bus.Publish(protocol.TopicLifecycle, protocol.EventAgentTerminated,
				protocol.AgentTerminatedPayload{AgentID: a.cfg.AgentID})
		}

		a.mbox.close()
		a.drainPendingReplies()
		close(a.done)
		for _, reply := range a.termReplies {
			reply <- nil
		}
	})
}

// stopRouters stops every active router from a side goroutine while the run
// loop keeps answering mailbox traffic. The stopper posts msgRoutersStopped
// when the last router has drained.
func (a *Agent) stopRouters() {
	if len(a.activeRouters) == 0 {
		return
	}
	routers := make([]*router.Router, 0, len(a.activeRouters))
	for r := range a.activeRouters {
		routers = append(routers, r)
	}
	go func() {
		for _, r := range routers {
			if err := r.Stop(context.Background()); err != nil {
				a.log.Warn("agent.router_stop_failed", "error", err)
			}
		}
		a.mbox.push(msgRoutersStopped{})
	}()

	for {
		msg, ok := a.mbox.pop()
		if !ok {
			return
		}
		if _, stopped := msg.(msgRoutersStopped); stopped {
			return
		}
		a.serveTerminating(msg)
	}
}

// serveTerminating answers messages arriving while routers drain. Sync
// requests are served from live state; anything that would start new work is
// refused, and fire-and-forget traffic is dropped.
func (a *Agent) serveTerminating(msg any) {
	switch m := msg.(type) {
	case msgTerminate:
		a.termReplies = append(a.termReplies, m.reply)
	case msgGetState:
		m.reply <- a.snapshot()
	case msgGetHistories:
		m.reply <- a.copyHistories()
	case msgGetPendingActions:
		out := make(map[string]PendingAction, len(a.pending))
		for k, v := range a.pending {
			out[k] = v
		}
		m.reply <- out
	case msgGetWaitTimer:
		m.reply <- nil
	case msgSetDismissing:
		a.dismissing = m.value
		m.reply <- struct{}{}
	case msgIsDismissing:
		m.reply <- a.dismissing
	case msgAddPendingAction:
		m.reply <- struct{}{}
	case msgProcessAction:
		m.reply <- fmt.Errorf("agent %s is terminating", a.cfg.AgentID)
	case msgSetModelPool:
		m.reply <- struct{}{}
	case msgShellCall:
		m.reply <- a.handleShellCall(m)
	case msgTodoOp:
		m.reply <- a.handleTodoOp(m)
	}
}

// drainPendingReplies answers any sync requests still queued so callers do
// not hang on a dead agent.
func (a *Agent) drainPendingReplies() {
	for {
		msg, ok := a.mbox.pop()
		if !ok {
			return
		}
		switch m := msg.(type) {
		case msgTerminate:
			m.reply <- nil
		case msgGetState:
			m.reply <- a.snapshot()
		case msgGetHistories:
			m.reply <- a.copyHistories()
		case msgGetPendingActions:
			m.reply <- map[string]PendingAction{}
		case msgGetWaitTimer:
			m.reply <- nil
		case msgSetDismissing:
			m.reply <- struct{}{}
		case msgIsDismissing:
			m.reply <- a.dismissing
		case msgAddPendingAction:
			m.reply <- struct{}{}
		case msgProcessAction:
			m.reply <- fmt.Errorf("agent terminated")
		case msgSetModelPool:
			m.reply <- struct{}{}
		case msgShellCall:
			m.reply <- shellReply{err: router.ErrCommandNotFound}
		case msgTodoOp:
			m.reply <- todoReply{err: fmt.Errorf("agent terminated")}
		}
	}
}

func (a *Agent) snapshot() StateSnapshot {
	pending := make(map[string]PendingAction, len(a.pending))
	for k, v := range a.pending {
		pending[k] = v
	}
	childIDs := make([]string, 0, len(a.children))
	for id := range a.children {
		childIDs = append(childIDs, id)
	}
	return StateSnapshot{
		AgentID:        a.cfg.AgentID,
		TaskID:         a.cfg.TaskID,
		Status:         a.status,
		Dismissing:     a.dismissing,
		ModelPool:      append([]string(nil), a.modelPool...),
		PendingActions: pending,
		QueuedMessages: len(a.queued),
		Todos:          append([]consensus.Todo(nil), a.todos...),
		Children:       childIDs,
		ActionCounter:  a.actionCounter,
		SpentUSD:       a.spentUSD,
	}
}

func (a *Agent) copyHistories() history.Set {
	out := make(history.Set, len(a.histories))
	for k, v := range a.histories {
		out[k] = append([]history.Entry(nil), v...)
	}
	return out
}

func firstKey(s history.Set) string {
	for k := range s {
		return k
	}
	return ""
}

func agentConfigMap(cfg config.AgentConfig) map[string]any {
	return map[string]any{
		"task_id":             cfg.TaskID,
		"test_mode":           cfg.TestMode,
		"capability_groups":   []string(cfg.CapabilityGroups),
		"model_pool":          []string(cfg.ModelPool),
		"profile_name":        cfg.ProfileName,
		"profile_description": cfg.ProfileDescription,
		"skills":              []string(cfg.Skills),
		"active_skills":       []string(cfg.ActiveSkills),
		"budget_limit_usd":    cfg.BudgetLimitUSD,
	}
}
