package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/gohive/internal/actions"
	"github.com/nextlevelbuilder/gohive/internal/agent"
	"github.com/nextlevelbuilder/gohive/internal/config"
	"github.com/nextlevelbuilder/gohive/internal/consensus"
	"github.com/nextlevelbuilder/gohive/internal/cost"
	"github.com/nextlevelbuilder/gohive/internal/history"
	"github.com/nextlevelbuilder/gohive/pkg/protocol"
)

// spawner backs the spawn and terminate_child actions.
type spawner struct {
	rt  *Runtime
	cfg *config.Config
}

func (s *spawner) SpawnChild(ctx context.Context, parentID string, params map[string]any) (string, error) {
	parent, ok := s.rt.Supervisor.Lookup(parentID)
	if !ok {
		return "", fmt.Errorf("parent %q not supervised", parentID)
	}

	prompt, _ := params["prompt"].(string)
	childID := fmt.Sprintf("%s-child-%s", parentID, uuid.NewString()[:8])

	childCfg := config.AgentConfig{
		AgentID:      childID,
		TaskID:       parent.TaskID(),
		ParentID:     parentID,
		ParentHandle: parent,
		Prompt:       prompt,
		SystemPrompt: s.cfg.Agents.SystemPrompt,
	}
	if pool := toStringSlice(params["model_pool"]); len(pool) > 0 {
		childCfg.ModelPool = pool
	} else {
		childCfg.ModelPool = s.cfg.Agents.DefaultModelPool
	}
	// Children never get more capability than the spawning agent holds.
	if groups := toStringSlice(params["capability_groups"]); len(groups) > 0 {
		childCfg.CapabilityGroups = intersect(groups, actions.CapabilityGroupsFromCtx(ctx))
	} else {
		childCfg.CapabilityGroups = actions.CapabilityGroupsFromCtx(ctx)
	}

	if _, err := s.rt.Supervisor.StartAgent(ctx, childCfg); err != nil {
		return "", err
	}
	return childID, nil
}

func (s *spawner) TerminateChild(ctx context.Context, parentID, childID string) error {
	entry, ok := s.rt.Env.Registry.Lookup(childID)
	if !ok {
		return fmt.Errorf("child %q not found", childID)
	}
	owner, _ := s.rt.Env.Registry.IDFor(entry.Meta.ParentHandle)
	if owner != parentID {
		return fmt.Errorf("agent %q is not a child of %q", childID, parentID)
	}
	return s.rt.Supervisor.TerminateAgent(ctx, childID)
}

// messenger backs the send_message action. "parent" resolves through the
// registry so children need not know their parent's id.
type messenger struct {
	rt *Runtime
}

func (m *messenger) Send(ctx context.Context, from, to, content, thread string) error {
	var target agent.Handle
	resolvedTo := to

	if to == "parent" {
		entry, ok := m.rt.Env.Registry.Lookup(from)
		if !ok {
			return fmt.Errorf("sender %q not registered", from)
		}
		h, isHandle := entry.Meta.ParentHandle.(agent.Handle)
		if !isHandle {
			return fmt.Errorf("agent %q has no parent", from)
		}
		target = h
		resolvedTo = h.ID()
	} else {
		entry, ok := m.rt.Env.Registry.Lookup(to)
		if !ok {
			return fmt.Errorf("recipient %q not found", to)
		}
		h, isHandle := entry.Handle.(agent.Handle)
		if !isHandle {
			return fmt.Errorf("recipient %q is not addressable", to)
		}
		target = h
	}

	target.SendAgentMessage(from, content)

	if m.rt.Env.Bus != nil {
		payload := protocol.MessagePayload{From: from, To: resolvedTo, Thread: thread, Content: content}
		m.rt.Env.Bus.Publish(protocol.TopicMessages(resolvedTo), protocol.EventMessageSent, payload)
		m.rt.Env.Bus.Publish(protocol.TopicAgentMessages(resolvedTo), protocol.EventMessageSent, payload)
		m.rt.Env.Bus.Publish(protocol.TopicMessagesAll, protocol.EventMessageSent, payload)
		if thread != "" {
			m.rt.Env.Bus.Publish(protocol.TopicThread(thread), protocol.EventMessageSent, payload)
		}
	}
	return nil
}

// shellController routes status and terminate calls to the router that owns
// the background command.
type shellController struct {
	rt *Runtime
}

func (s *shellController) ShellStatus(_ context.Context, agentID, commandID string) (map[string]any, error) {
	a, ok := s.rt.Supervisor.Lookup(agentID)
	if !ok {
		return nil, fmt.Errorf("agent %q not found", agentID)
	}
	return a.ShellStatus(commandID)
}

func (s *shellController) ShellTerminate(_ context.Context, agentID, commandID string) (map[string]any, error) {
	a, ok := s.rt.Supervisor.Lookup(agentID)
	if !ok {
		return nil, fmt.Errorf("agent %q not found", agentID)
	}
	return a.ShellTerminate(commandID)
}

// todoController routes the todo action into the owning agent's mailbox.
type todoController struct {
	rt *Runtime
}

func (t *todoController) AddTodo(_ context.Context, agentID, content string) error {
	a, ok := t.rt.Supervisor.Lookup(agentID)
	if !ok {
		return fmt.Errorf("agent %q not found", agentID)
	}
	_, err := a.AddTodo(content)
	return err
}

func (t *todoController) SetTodoState(_ context.Context, agentID string, index int, state string) error {
	a, ok := t.rt.Supervisor.Lookup(agentID)
	if !ok {
		return fmt.Errorf("agent %q not found", agentID)
	}
	_, err := a.SetTodoState(index, state)
	return err
}

func (t *todoController) ListTodos(_ context.Context, agentID string) ([]actions.TodoItem, error) {
	a, ok := t.rt.Supervisor.Lookup(agentID)
	if !ok {
		return nil, fmt.Errorf("agent %q not found", agentID)
	}
	todos, err := a.ListTodos()
	if err != nil {
		return nil, err
	}
	items := make([]actions.TodoItem, 0, len(todos))
	for _, todo := range todos {
		items = append(items, actions.TodoItem{Content: todo.Content, State: todo.State})
	}
	return items, nil
}

// orientFunc runs the reflector over the agent's own history so the agent
// can ask "where am I" and get a condensed situational summary.
func orientFunc(rt *Runtime) actions.OrientFunc {
	reflector := consensus.NewReflector(rt.Env.Models)
	return func(ctx context.Context, agentID, focus string) (map[string]any, error) {
		a, ok := rt.Supervisor.Lookup(agentID)
		if !ok {
			return nil, fmt.Errorf("agent %q not found", agentID)
		}
		st := a.GetState()
		if len(st.ModelPool) == 0 {
			return nil, fmt.Errorf("agent %q has no model pool", agentID)
		}
		modelID := st.ModelPool[0]

		entries := a.GetModelHistories()[modelID]
		msgs := reflectorMessages(entries)
		if focus != "" {
			msgs = append(msgs, consensus.ReflectorMessage{
				Role:    "user",
				Content: "Focus the reflection on: " + focus,
			})
		}

		reflection, usage, err := reflector.Reflect(ctx, modelID, msgs)
		if usage != nil {
			usd := rt.Env.Models.CostUSD(modelID, usage)
			acc := cost.NewAccumulator().AddLLM(agentID, st.TaskID, modelID, usd, map[string]any{
				"purpose": "orient",
			})
			acc.Flush(ctx, rt.Env.Stores.Costs, rt.Env.Bus, agentID)
		}
		if err != nil {
			return nil, err
		}

		summary := ""
		if len(reflection.State) > 0 {
			summary = reflection.State[len(reflection.State)-1].Summary
		}
		lessons := make([]map[string]any, 0, len(reflection.Lessons))
		for _, l := range reflection.Lessons {
			lessons = append(lessons, map[string]any{
				"type": l.Type, "content": l.Content, "confidence": l.Confidence,
			})
		}
		return map[string]any{
			"summary":         summary,
			"lessons":         lessons,
			"todos":           st.Todos,
			"children":        st.Children,
			"pending_actions": len(st.PendingActions),
			"spent_usd":       st.SpentUSD,
			"oriented_at":     time.Now().UTC().Format(time.RFC3339),
		}, nil
	}
}

// reflectorMessages converts a newest-first history into the chronological
// role-tagged form the reflector consumes.
func reflectorMessages(entries []history.Entry) []consensus.ReflectorMessage {
	chrono := history.Chronological(entries)
	msgs := make([]consensus.ReflectorMessage, 0, len(chrono))
	for _, e := range chrono {
		role := "user"
		if e.Type == history.TypeAssistant || e.Type == history.TypeDecision {
			role = "assistant"
		}
		msgs = append(msgs, consensus.ReflectorMessage{Role: role, Content: e.Content})
	}
	return msgs
}

func toStringSlice(raw any) config.FlexibleStringSlice {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make(config.FlexibleStringSlice, 0, len(list))
	for _, v := range list {
		if s, isStr := v.(string); isStr {
			out = append(out, s)
		}
	}
	return out
}

// intersect keeps the requested groups that the parent actually holds. An
// empty parent grant means unrestricted, so the request passes through.
func intersect(requested, parent []string) config.FlexibleStringSlice {
	if len(parent) == 0 {
		return config.FlexibleStringSlice(requested)
	}
	held := make(map[string]bool, len(parent))
	for _, g := range parent {
		held[g] = true
	}
	out := make(config.FlexibleStringSlice, 0, len(requested))
	for _, g := range requested {
		if held[g] {
			out = append(out, g)
		}
	}
	return out
}
