package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/actions"
	"github.com/nextlevelbuilder/gohive/internal/consensus"
	"github.com/nextlevelbuilder/gohive/internal/cost"
	"github.com/nextlevelbuilder/gohive/internal/history"
	"github.com/nextlevelbuilder/gohive/internal/router"
	"github.com/nextlevelbuilder/gohive/internal/store"
)

// routerSink delivers one router's outputs back through the agent's mailbox.
type routerSink struct {
	agent      *Agent
	actionType string
	r          *router.Router
}

func (s *routerSink) DeliverResult(actionID string, result any, isError bool) {
	s.agent.mbox.push(msgActionResult{
		ActionID:   actionID,
		ActionType: s.actionType,
		Result:     result,
		IsError:    isError,
		Router:     s.r,
	})
}

func (s *routerSink) MarkFirstTodoDone() {
	s.agent.mbox.push(msgMarkFirstTodoDone{})
}

func (a *Agent) hasUnackedPending() bool {
	for _, p := range a.pending {
		if !p.Acked {
			return true
		}
	}
	return false
}

// handleAgentMessage: with an unacknowledged pending action in flight the
// message is queued and replayed after that action's result lands. Otherwise
// it cancels any wait timer and schedules a cycle.
func (a *Agent) handleAgentMessage(m msgAgentMessage) {
	if a.hasUnackedPending() {
		a.queued = append(a.queued, m)
		a.log.Debug("agent.message_queued", "from", m.From, "queued", len(a.queued))
		return
	}
	a.clearTimer()
	a.histories.Add(history.TypeEvent, consensus.FormatAgentMessage(m.From, m.Content))
	a.scheduleConsensus()
}

// handleActionResult inserts the result into every history before replaying
// queued messages, so the next cycle always sees the result first.
func (a *Agent) handleActionResult(m msgActionResult) {
	if m.Router != nil {
		if res, ok := m.Result.(map[string]any); ok {
			if status, _ := res["status"].(string); status == "running" {
				if cmdID, _ := res["command_id"].(string); cmdID != "" {
					a.shellRouters[cmdID] = m.Router
				}
			}
		}
	}

	if subs, ok := m.Result.([]actions.SubResult); ok {
		// Batch results land as one history entry per sub-action,
		// oldest-first in the newest-first history.
		for i := len(subs) - 1; i >= 0; i-- {
			sub := subs[i]
			a.histories.AddWithAction(history.TypeResult,
				consensus.FormatActionResult(sub.ActionID, sub.Action, sub.Result.Content),
				sub.ActionID, sub.Result.Content, sub.Action)
		}
	} else if parts, isImage := consensus.DetectImage(m.Result); isImage {
		a.histories.Add(history.TypeImage, parts)
	} else {
		a.histories.AddWithAction(history.TypeResult,
			consensus.FormatActionResult(m.ActionID, m.ActionType, m.Result),
			m.ActionID, m.Result, m.ActionType)
	}

	if m.ActionType == "spawn" && !m.IsError {
		a.adoptChild(m.Result)
	}

	delete(a.pending, m.ActionID)
	a.clearTimer()
	a.scheduleConsensus()

	// Replay queued messages after the trigger; each re-runs the normal
	// message path once the gate is open.
	if !a.hasUnackedPending() && len(a.queued) > 0 {
		for _, qm := range a.queued {
			a.mbox.push(qm)
		}
		a.queued = nil
	}
}

// adoptChild links a freshly spawned child so its death is observed.
func (a *Agent) adoptChild(result any) {
	res, ok := result.(map[string]any)
	if !ok {
		return
	}
	childID, _ := res["child_id"].(string)
	if childID == "" {
		return
	}
	entry, found := a.env.Registry.Lookup(childID)
	if !found {
		return
	}
	handle, ok := entry.Handle.(Handle)
	if !ok {
		return
	}
	a.children[childID] = Child{ChildID: childID, Handle: handle, SpawnedAt: time.Now().UTC()}
	go func() {
		<-handle.Done()
		a.mbox.push(msgChildDown{ChildID: childID})
	}()
}

// handleTrigger runs one consensus cycle after the staleness check: no cycle
// scheduled and no timer armed means the trigger is left over from state that
// no longer exists, and it is dropped without touching anything.
func (a *Agent) handleTrigger() {
	if !a.consensusScheduled && a.waitTimer == nil {
		a.log.Debug("consensus.stale_trigger", "agent_id", a.cfg.AgentID)
		return
	}
	a.consensusScheduled = false
	a.clearTimer()
	if dropped := a.mbox.drainTriggers(); dropped > 0 {
		a.log.Debug("consensus.triggers_coalesced", "dropped", dropped)
	}
	a.runConsensusCycle()
}

func (a *Agent) handleWaitExpired(m msgWaitExpired) {
	if a.waitTimer == nil || !a.waitTimer.Timed || m.Generation != a.waitTimer.Generation {
		return // superseded timer
	}
	a.histories.Add(history.TypeEvent, consensus.FormatTimeout(a.waitTimer.Seconds))
	a.scheduleConsensus()
}

func (a *Agent) handleRouterDown(m msgRouterDown) {
	delete(a.activeRouters, m.Router)
	for cmdID, r := range a.shellRouters {
		if r == m.Router {
			delete(a.shellRouters, cmdID)
		}
	}
}

func (a *Agent) handleChildDown(m msgChildDown) {
	if _, known := a.children[m.ChildID]; !known {
		return
	}
	delete(a.children, m.ChildID)
	a.clearTimer()
	a.histories.Add(history.TypeEvent,
		consensus.FormatSystemEvent("child_terminated", map[string]any{"child_id": m.ChildID}))
	a.scheduleConsensus()
}

func (a *Agent) markFirstTodoDone() {
	for i := range a.todos {
		if a.todos[i].State != "done" {
			a.todos[i].State = "done"
			return
		}
	}
}

// scheduleConsensus marks a cycle due and posts the trigger.
func (a *Agent) scheduleConsensus() {
	a.consensusScheduled = true
	a.mbox.push(msgTriggerConsensus{})
}

func (a *Agent) clearTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.waitTimer = nil
}

// runConsensusCycle blocks the mailbox for its duration; everything arriving
// meanwhile queues behind it. Costs are flushed whether or not the cycle
// produced a decision.
func (a *Agent) runConsensusCycle() {
	if a.dismissing {
		a.log.Info("consensus.skipped_dismissing", "agent_id", a.cfg.AgentID)
		return
	}
	if a.env.Consensus == nil {
		a.log.Warn("consensus.no_coordinator", "agent_id", a.cfg.AgentID)
		return
	}

	in := consensus.Input{
		AgentID:      a.cfg.AgentID,
		TaskID:       a.cfg.TaskID,
		SystemPrompt: a.cfg.SystemPrompt,
		ModelPool:    append([]string(nil), a.modelPool...),
		Histories:    a.histories,
		Lessons:      a.lessons,
		ModelStates:  a.modelStates,
		Todos:        append([]consensus.Todo(nil), a.todos...),
		Children:     a.childInfos(),
	}
	if a.cfg.BudgetLimitUSD > 0 {
		in.Budget = &consensus.Budget{SpentUSD: a.spentUSD, LimitUSD: a.cfg.BudgetLimitUSD}
	}

	ctx := context.Background()
	dec, err := a.env.Consensus.Run(ctx, in, cost.NewAccumulator())

	if dec != nil {
		var costs store.CostStore
		if a.env.Stores != nil {
			costs = a.env.Stores.Costs
		}
		dec.Accumulator.Flush(ctx, costs, a.env.Bus, a.cfg.AgentID)
		a.spentUSD += dec.Accumulator.TotalUSD()
		for modelID, upd := range dec.ACEUpdates {
			a.lessons[modelID] = append(a.lessons[modelID], upd.Lessons...)
			if upd.State != nil {
				a.modelStates[modelID] = upd.State
			}
			if upd.Condensed != nil {
				// Condensation computed the replacement history off to the
				// side; applying it here keeps all history writes inside
				// the run loop.
				a.histories.Replace(modelID, upd.Condensed)
			}
		}
	}
	if err != nil {
		a.log.Warn("consensus.cycle_failed", "agent_id", a.cfg.AgentID, "error", err)
		a.persistState()
		return
	}

	decision, merr := json.Marshal(dec.Action)
	if merr == nil {
		a.histories.Add(history.TypeDecision, string(decision))
	}
	a.log.Info("consensus.decision",
		"agent_id", a.cfg.AgentID,
		"type", dec.Type,
		"action", dec.Action.Action,
		"rounds", dec.RoundCount)

	a.persistState()

	if derr := a.dispatch(dec.Action); derr != nil {
		a.log.Warn("agent.dispatch_failed", "action", dec.Action.Action, "error", derr)
	}
}

func (a *Agent) childInfos() []consensus.ChildInfo {
	out := make([]consensus.ChildInfo, 0, len(a.children))
	for _, c := range a.children {
		out = append(out, consensus.ChildInfo{ChildID: c.ChildID, SpawnedAt: c.SpawnedAt})
	}
	return out
}

// dispatch hands the winning action to a fresh router. Wait arms the timer
// instead; nothing is dispatched while the agent is dismissing.
func (a *Agent) dispatch(action consensus.ActionResponse) error {
	if a.dismissing {
		return fmt.Errorf("agent %s is dismissing, refusing %q", a.cfg.AgentID, action.Action)
	}

	if action.Action == "wait" {
		a.armWait(action)
		return nil
	}

	a.actionCounter++
	actionID := fmt.Sprintf("%s-act-%d", a.cfg.AgentID, a.actionCounter)

	// Acked actions do not gate inbound messages: the model has said it
	// expects to keep receiving input while this action runs.
	acked := action.Wait.True() || action.Action == "spawn"
	a.pending[actionID] = PendingAction{
		Type:   action.Action,
		Params: action.Params,
		TS:     time.Now().UTC(),
		Acked:  acked,
	}

	sink := &routerSink{agent: a, actionType: action.Action}
	r := router.New(router.Config{
		AgentID:          a.cfg.AgentID,
		TaskID:           a.cfg.TaskID,
		CapabilityGroups: a.cfg.CapabilityGroups,
		Actions:          a.env.Actions,
		Secrets:          a.env.Secrets,
		Bus:              a.env.Bus,
		Sink:             sink,
		Logger:           a.log,
	})
	sink.r = r
	a.activeRouters[r] = struct{}{}

	go r.Execute(context.Background(), actionID, action.Action, action.Params, action.AutoCompleteTodo)
	go func() {
		<-r.Done()
		a.mbox.push(msgRouterDown{Router: r})
	}()
	return nil
}

// armWait starts the single timer for a numeric wait; bool waits just leave
// the agent idle until external input arrives.
func (a *Agent) armWait(action consensus.ActionResponse) {
	a.clearTimer()
	seconds := action.Wait.Seconds
	if seconds <= 0 {
		if s, ok := action.Params["seconds"].(float64); ok {
			seconds = s
		}
	}
	a.timerGen++
	if seconds <= 0 {
		a.waitTimer = &WaitTimer{Generation: a.timerGen, Timed: false}
		return
	}
	gen := a.timerGen
	a.waitTimer = &WaitTimer{Generation: gen, Timed: true, Seconds: seconds}
	a.timer = time.AfterFunc(time.Duration(seconds*float64(time.Second)), func() {
		a.mbox.push(msgWaitExpired{Generation: gen})
	})
}

func (a *Agent) handleShellCall(m msgShellCall) shellReply {
	r, ok := a.shellRouters[m.commandID]
	if !ok {
		return shellReply{err: router.ErrCommandNotFound}
	}
	var (
		status map[string]any
		err    error
	)
	if m.terminate {
		status, err = r.ShellTerminate(m.commandID)
	} else {
		status, err = r.ShellStatus(m.commandID)
	}
	return shellReply{status: status, err: err}
}

func (a *Agent) handleTodoOp(m msgTodoOp) todoReply {
	switch m.op {
	case "add":
		a.todos = append(a.todos, consensus.Todo{Content: m.content, State: "todo"})
	case "set_state":
		if m.index < 0 || m.index >= len(a.todos) {
			return todoReply{err: fmt.Errorf("todo index %d out of range", m.index)}
		}
		a.todos[m.index].State = m.state
	case "list":
	default:
		return todoReply{err: fmt.Errorf("unknown todo op %q", m.op)}
	}
	return todoReply{todos: append([]consensus.Todo(nil), a.todos...)}
}
