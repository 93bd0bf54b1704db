package agent

import (
	"context"
	"time"
)

// persistState writes the agent's durable snapshot after each consensus
// cycle. Restoration-mode replicas never write; failures are logged, never
// fatal.
func (a *Agent) persistState() {
	if a.cfg.RestorationMode || a.env.Stores == nil || a.env.Stores.Agents == nil {
		return
	}

	lessons := make(map[string]any, len(a.lessons))
	for modelID, list := range a.lessons {
		items := make([]any, 0, len(list))
		for _, l := range list {
			items = append(items, map[string]any{
				"type": l.Type, "content": l.Content, "confidence": l.Confidence,
			})
		}
		lessons[modelID] = items
	}
	states := make(map[string]any, len(a.modelStates))
	for modelID, st := range a.modelStates {
		if st != nil {
			states[modelID] = map[string]any{
				"summary":    st.Summary,
				"updated_at": st.UpdatedAt.Format(time.RFC3339Nano),
			}
		}
	}

	state := map[string]any{
		"model_histories": a.histories.Persistable(),
		"context_lessons": lessons,
		"model_states":    states,
		"todos":           append([]any(nil), todosAny(a)...),
		"spent_usd":       a.spentUSD,
		"action_counter":  a.actionCounter,
	}

	err := a.env.Stores.Agents.UpdateAgentState(context.Background(), a.cfg.AgentID, state)
	if err != nil {
		a.log.Warn("agent.persist_failed", "op", "update_state", "error", err)
	}
}

func todosAny(a *Agent) []any {
	out := make([]any, 0, len(a.todos))
	for _, t := range a.todos {
		out = append(out, map[string]any{"content": t.Content, "state": t.State})
	}
	return out
}
