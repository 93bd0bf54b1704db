package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/agent"
	"github.com/nextlevelbuilder/gohive/internal/bus"
	"github.com/nextlevelbuilder/gohive/internal/config"
	"github.com/nextlevelbuilder/gohive/internal/consensus"
	"github.com/nextlevelbuilder/gohive/internal/mcp"
	"github.com/nextlevelbuilder/gohive/internal/providers/providertest"
	"github.com/nextlevelbuilder/gohive/internal/registry"
	"github.com/nextlevelbuilder/gohive/internal/router"
	"github.com/nextlevelbuilder/gohive/internal/store"
	"github.com/nextlevelbuilder/gohive/internal/supervisor"
)

func TestNewStartShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "rt.db")
	cfg.Gateway.Enabled = true
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0

	ctx := context.Background()
	rt, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rt.Gateway.Addr() == "" {
		t.Error("gateway not listening")
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rt.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNewRejectsBadDatabaseMode(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Mode = "quantum"
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Error("expected error for unknown database mode")
	}
}

func TestNewRejectsManagedWithoutDSN(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Mode = "managed"
	cfg.Database.PostgresDSN = ""
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Error("expected error for managed mode without DSN")
	}
}

// newWiredRuntime assembles a Runtime around the scripted provider so wiring
// can be exercised without real model calls.
func newWiredRuntime(t *testing.T) (*Runtime, *providertest.Scripted) {
	t.Helper()
	script := providertest.NewScripted()
	script.Default = providertest.Response{
		Content: `{"action":"wait","params":{},"wait":true,"reasoning":"idle"}`,
	}
	cfg := config.Default()
	cfg.Agents.Workspace = t.TempDir()
	cfg.Agents.DefaultModelPool = config.FlexibleStringSlice{"m1"}

	rt := &Runtime{cfg: cfg, log: discardLogger()}
	env := agent.Env{
		Bus:      bus.New(),
		Registry: registry.New(),
		Stores:   store.NewMemoryStores(),
		Models:   providertest.NewRegistry(script, "m1"),
		MCP:      mcp.NewManager(),
		Logger:   rt.log,
	}
	env.Consensus = consensus.New(consensus.Config{Models: env.Models, Bus: env.Bus})
	rt.Env = env
	rt.Env.Actions = buildActions(cfg, rt)
	rt.Supervisor = supervisor.New(supervisor.Config{Env: rt.Env, Logger: rt.log})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Supervisor.Close(ctx)
	})
	return rt, script
}

func TestSpawnerCreatesAndTerminatesChildren(t *testing.T) {
	rt, _ := newWiredRuntime(t)
	ctx := context.Background()

	parent, err := rt.Supervisor.StartAgent(ctx, config.AgentConfig{
		AgentID: "p1", TaskID: "t1", ModelPool: config.FlexibleStringSlice{"m1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	sp := &spawner{rt: rt, cfg: rt.cfg}
	childID, err := sp.SpawnChild(ctx, "p1", map[string]any{"prompt": "help out"})
	if err != nil {
		t.Fatalf("SpawnChild: %v", err)
	}
	if !strings.HasPrefix(childID, "p1-child-") {
		t.Errorf("childID = %q", childID)
	}
	child, ok := rt.Supervisor.Lookup(childID)
	if !ok {
		t.Fatal("child not supervised")
	}
	if child.TaskID() != parent.TaskID() {
		t.Errorf("child task = %q, want %q", child.TaskID(), parent.TaskID())
	}

	// Another agent cannot reap someone else's child.
	if _, err := rt.Supervisor.StartAgent(ctx, config.AgentConfig{
		AgentID: "p2", TaskID: "t1", ModelPool: config.FlexibleStringSlice{"m1"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := sp.TerminateChild(ctx, "p2", childID); err == nil {
		t.Error("expected ownership check to fail")
	}
	if err := sp.TerminateChild(ctx, "p1", childID); err != nil {
		t.Errorf("TerminateChild: %v", err)
	}
	if err := sp.TerminateChild(ctx, "p1", "never-was"); err == nil {
		t.Error("expected unknown child error")
	}
}

func TestMessengerResolvesParentAlias(t *testing.T) {
	rt, _ := newWiredRuntime(t)
	ctx := context.Background()

	parent, err := rt.Supervisor.StartAgent(ctx, config.AgentConfig{
		AgentID: "p1", TaskID: "t1", ModelPool: config.FlexibleStringSlice{"m1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	sp := &spawner{rt: rt, cfg: rt.cfg}
	childID, err := sp.SpawnChild(ctx, "p1", map[string]any{"prompt": "report back"})
	if err != nil {
		t.Fatal(err)
	}

	m := &messenger{rt: rt}
	if err := m.Send(ctx, childID, "parent", "done with the task", ""); err != nil {
		t.Fatalf("Send to parent: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	delivered := false
	for time.Now().Before(deadline) && !delivered {
		for _, e := range parent.GetModelHistories()["m1"] {
			if s, _ := e.Content.(string); strings.Contains(s, "done with the task") {
				delivered = true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !delivered {
		t.Error("parent never received the child's message")
	}

	if err := m.Send(ctx, "p1", "nobody-home", "hello", ""); err == nil {
		t.Error("expected unknown recipient error")
	}
}

func TestTodoControllerRoutesToAgent(t *testing.T) {
	rt, _ := newWiredRuntime(t)
	ctx := context.Background()

	a, err := rt.Supervisor.StartAgent(ctx, config.AgentConfig{
		AgentID: "a1", TaskID: "t1", ModelPool: config.FlexibleStringSlice{"m1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	tc := &todoController{rt: rt}
	if err := tc.AddTodo(ctx, "a1", "write the report"); err != nil {
		t.Fatal(err)
	}
	if err := tc.SetTodoState(ctx, "a1", 0, "pending"); err != nil {
		t.Fatal(err)
	}
	items, err := tc.ListTodos(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].State != "pending" {
		t.Errorf("items = %+v", items)
	}

	todos, err := a.ListTodos()
	if err != nil {
		t.Fatal(err)
	}
	if len(todos) != 1 || todos[0].Content != "write the report" {
		t.Errorf("agent todos = %+v", todos)
	}

	if err := tc.AddTodo(ctx, "ghost", "x"); err == nil {
		t.Error("expected unknown agent error")
	}
}

func TestOrientSummarizesAgent(t *testing.T) {
	rt, script := newWiredRuntime(t)
	ctx := context.Background()

	if _, err := rt.Supervisor.StartAgent(ctx, config.AgentConfig{
		AgentID: "a1", TaskID: "t1", ModelPool: config.FlexibleStringSlice{"m1"},
	}); err != nil {
		t.Fatal(err)
	}

	script.Enqueue("m1", providertest.Response{
		Content: `{"lessons":[{"type":"factual","content":"the task is underway","confidence":0.9}],` +
			`"model_state":{"summary":"mid-task, no blockers"}}`,
	})

	orient := orientFunc(rt)
	out, err := orient(ctx, "a1", "current blockers")
	if err != nil {
		t.Fatalf("orient: %v", err)
	}
	if out["summary"] != "mid-task, no blockers" {
		t.Errorf("summary = %v", out["summary"])
	}
	lessons, _ := out["lessons"].([]map[string]any)
	if len(lessons) != 1 {
		t.Errorf("lessons = %v", out["lessons"])
	}

	if _, err := orient(ctx, "ghost", ""); err == nil {
		t.Error("expected unknown agent error")
	}
}

func TestCapabilityIntersection(t *testing.T) {
	tests := []struct {
		name      string
		requested []string
		parent    []string
		want      []string
	}{
		{"subset", []string{"core"}, []string{"core", "shell"}, []string{"core"}},
		{"escalation stripped", []string{"core", "shell"}, []string{"core"}, []string{"core"}},
		{"unrestricted parent", []string{"shell"}, nil, []string{"shell"}},
		{"disjoint", []string{"network"}, []string{"core"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := intersect(tt.requested, tt.parent)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestShellControllerRoutesToAgent(t *testing.T) {
	rt, _ := newWiredRuntime(t)
	ctx := context.Background()

	if _, err := rt.Supervisor.StartAgent(ctx, config.AgentConfig{
		AgentID: "a1", TaskID: "t1", ModelPool: config.FlexibleStringSlice{"m1"},
	}); err != nil {
		t.Fatal(err)
	}

	sc := &shellController{rt: rt}
	if _, err := sc.ShellStatus(ctx, "a1", "never-ran"); !errors.Is(err, router.ErrCommandNotFound) {
		t.Errorf("ShellStatus err = %v, want ErrCommandNotFound", err)
	}
	if _, err := sc.ShellTerminate(ctx, "a1", "never-ran"); !errors.Is(err, router.ErrCommandNotFound) {
		t.Errorf("ShellTerminate err = %v, want ErrCommandNotFound", err)
	}
	if _, err := sc.ShellStatus(ctx, "ghost", "x"); err == nil {
		t.Error("expected unknown agent error")
	}
}

func TestBuildActionsRegistersFullSet(t *testing.T) {
	rt, _ := newWiredRuntime(t)
	want := []string{
		"shell", "shell_status", "shell_terminate", "file_read", "file_write",
		"web_fetch", "wait", "todo", "send_message", "spawn", "terminate_child",
		"orient", "mcp", "batch_sync",
	}
	for _, name := range want {
		if _, err := rt.Env.Actions.Get(name); err != nil {
			t.Errorf("action %q not registered: %v", name, err)
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
