package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/actions"
	"github.com/nextlevelbuilder/gohive/internal/agent"
	"github.com/nextlevelbuilder/gohive/internal/bus"
	"github.com/nextlevelbuilder/gohive/internal/config"
	"github.com/nextlevelbuilder/gohive/internal/consensus"
	"github.com/nextlevelbuilder/gohive/internal/history"
	"github.com/nextlevelbuilder/gohive/internal/providers/providertest"
	"github.com/nextlevelbuilder/gohive/internal/registry"
	"github.com/nextlevelbuilder/gohive/internal/store"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *store.MemoryStores) {
	t.Helper()
	script := providertest.NewScripted()
	script.Default = providertest.Response{
		Content: `{"action":"wait","params":{},"wait":true,"reasoning":"idle"}`,
	}
	mem := store.NewMemoryBackend()
	env := agent.Env{
		Bus:      bus.New(),
		Registry: registry.New(),
		Stores:   &store.Stores{Agents: mem, Costs: mem},
		Models:   providertest.NewRegistry(script, "m1"),
		Actions:  actions.NewRegistry(),
	}
	env.Consensus = consensus.New(consensus.Config{Models: env.Models, Bus: env.Bus})

	s := New(Config{Env: env, MaxRestarts: 3, RestartWindow: time.Minute})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, mem
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartLookupTerminate(t *testing.T) {
	s, _ := newTestSupervisor(t)
	ctx := context.Background()

	a, err := s.StartAgent(ctx, config.AgentConfig{
		AgentID: "a1", TaskID: "t1", ModelPool: config.FlexibleStringSlice{"m1"},
	})
	if err != nil {
		t.Fatalf("StartAgent: %v", err)
	}
	if got, ok := s.Lookup("a1"); !ok || got != a {
		t.Error("Lookup did not return the started agent")
	}
	if ids := s.List(); len(ids) != 1 || ids[0] != "a1" {
		t.Errorf("List = %v", ids)
	}

	// Double-starts are refused before touching the registry.
	if _, err := s.StartAgent(ctx, config.AgentConfig{
		AgentID: "a1", TaskID: "t2", ModelPool: config.FlexibleStringSlice{"m1"},
	}); err == nil {
		t.Error("expected error starting duplicate agent")
	}

	if err := s.TerminateAgent(ctx, "a1"); err != nil {
		t.Fatalf("TerminateAgent: %v", err)
	}
	waitFor(t, "agent removed from supervision", func() bool {
		_, ok := s.Lookup("a1")
		return !ok
	})

	if err := s.TerminateAgent(ctx, "a1"); err == nil {
		t.Error("expected ErrUnknownAgent for second terminate")
	}
}

func TestDefaultModelPoolApplied(t *testing.T) {
	s, _ := newTestSupervisor(t)
	s.defaultPool = []string{"m1"}
	ctx := context.Background()

	a, err := s.StartAgent(ctx, config.AgentConfig{AgentID: "a1", TaskID: "t1"})
	if err != nil {
		t.Fatalf("StartAgent: %v", err)
	}
	st := a.GetState()
	if len(st.ModelPool) != 1 || st.ModelPool[0] != "m1" {
		t.Errorf("model pool = %v, want [m1]", st.ModelPool)
	}
}

func TestRestoreAgentRehydratesState(t *testing.T) {
	s, mem := newTestSupervisor(t)
	ctx := context.Background()

	a, err := s.StartAgent(ctx, config.AgentConfig{
		AgentID: "a1", TaskID: "t1",
		ModelPool: config.FlexibleStringSlice{"m1"},
		Prompt:    "remember this",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Wait for the first consensus cycle to persist histories.
	waitFor(t, "persisted state", func() bool {
		rec, gerr := mem.GetAgent(ctx, "a1")
		if gerr != nil {
			return false
		}
		_, ok := rec.State["model_histories"].(map[string]any)
		return ok
	})
	if _, terr := a.AddTodo("carry me over"); terr != nil {
		t.Fatal(terr)
	}
	a.SendUserMessage("persist again") // cycle persists the todo
	waitFor(t, "todo persisted", func() bool {
		rec, gerr := mem.GetAgent(ctx, "a1")
		if gerr != nil {
			return false
		}
		todos, _ := rec.State["todos"].([]any)
		return len(todos) == 1
	})

	if err := s.TerminateAgent(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "agent gone", func() bool {
		_, ok := s.Lookup("a1")
		return !ok
	})

	restored, err := s.RestoreAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("RestoreAgent: %v", err)
	}
	if restored.TaskID() != "t1" {
		t.Errorf("task = %q", restored.TaskID())
	}

	todos, err := restored.ListTodos()
	if err != nil {
		t.Fatal(err)
	}
	if len(todos) != 1 || todos[0].Content != "carry me over" {
		t.Errorf("todos = %+v", todos)
	}

	hist := restored.GetModelHistories()["m1"]
	found := false
	for _, e := range hist {
		if e.Type == history.TypePrompt {
			s, _ := e.Content.(string)
			found = strings.Contains(s, "remember this")
		}
	}
	if !found {
		t.Error("restored history lost the original prompt")
	}

	if _, err := s.RestoreAgent(ctx, "never-existed"); err == nil {
		t.Error("expected error restoring unknown agent")
	}
}

func TestRestoreAgentSkipsPersistenceAndSpawnEvent(t *testing.T) {
	s, mem := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := s.StartAgent(ctx, config.AgentConfig{
		AgentID: "a1", TaskID: "t1",
		ModelPool: config.FlexibleStringSlice{"m1"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.TerminateAgent(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "agent gone", func() bool {
		_, ok := s.Lookup("a1")
		return !ok
	})

	// Mark the row so any rewrite during restore is visible.
	rec, err := mem.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	rec.Status = "ready"
	if err := mem.PutAgent(ctx, rec); err != nil {
		t.Fatal(err)
	}

	var spawns int
	s.env.Bus.Subscribe("agents:lifecycle", "test", func(ev bus.Event) {
		if ev.Type == "agent_spawned" {
			spawns++
		}
	})

	if _, err := s.RestoreAgent(ctx, "a1"); err != nil {
		t.Fatalf("RestoreAgent: %v", err)
	}

	after, err := mem.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != "ready" {
		t.Errorf("restore rewrote the persisted row: status = %q, want ready", after.Status)
	}
	if spawns != 0 {
		t.Errorf("restore broadcast %d spawn events, want 0", spawns)
	}
}

func TestAllowRestart(t *testing.T) {
	now := time.Now()
	window := time.Minute

	tests := []struct {
		name     string
		restarts []time.Time
		max      int
		want     bool
		wantLen  int
	}{
		{"first failure", nil, 3, true, 1},
		{"under budget", []time.Time{now.Add(-10 * time.Second)}, 3, true, 2},
		{"at budget", []time.Time{
			now.Add(-30 * time.Second), now.Add(-20 * time.Second), now.Add(-10 * time.Second),
		}, 3, false, 3},
		{"old failures expire", []time.Time{
			now.Add(-2 * time.Minute), now.Add(-90 * time.Second), now.Add(-10 * time.Second),
		}, 3, true, 2},
		{"budget of one", []time.Time{now.Add(-time.Second)}, 1, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, allowed := allowRestart(tt.restarts, now, tt.max, window)
			if allowed != tt.want {
				t.Errorf("allowed = %v, want %v", allowed, tt.want)
			}
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestCloseTerminatesAll(t *testing.T) {
	s, _ := newTestSupervisor(t)
	ctx := context.Background()

	var agents []*agent.Agent
	for _, id := range []string{"a1", "a2", "a3"} {
		a, err := s.StartAgent(ctx, config.AgentConfig{
			AgentID: id, TaskID: "t1", ModelPool: config.FlexibleStringSlice{"m1"},
		})
		if err != nil {
			t.Fatal(err)
		}
		agents = append(agents, a)
	}

	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, a := range agents {
		select {
		case <-a.Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("agent %s not terminated by Close", a.ID())
		}
	}
	if _, err := s.StartAgent(ctx, config.AgentConfig{
		AgentID: "late", TaskID: "t1", ModelPool: config.FlexibleStringSlice{"m1"},
	}); err == nil {
		t.Error("expected error starting after Close")
	}
}
