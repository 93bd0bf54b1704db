package router

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/actions"
	"github.com/nextlevelbuilder/gohive/internal/bus"
	"github.com/nextlevelbuilder/gohive/internal/secrets"
	"github.com/nextlevelbuilder/gohive/pkg/protocol"
)

type capturedResult struct {
	ActionID string
	Result   any
	IsError  bool
}

type fakeSink struct {
	mu        sync.Mutex
	results   []capturedResult
	todosDone int
}

func (s *fakeSink) DeliverResult(actionID string, result any, isError bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, capturedResult{actionID, result, isError})
}

func (s *fakeSink) MarkFirstTodoDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.todosDone++
}

func (s *fakeSink) snapshot() ([]capturedResult, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]capturedResult, len(s.results))
	copy(out, s.results)
	return out, s.todosDone
}

func newTestRegistry(dir string) *actions.Registry {
	reg := actions.NewRegistry()
	reg.Register(actions.NewShellAction(actions.ShellConfig{
		WorkingDir:    dir,
		SyncThreshold: 50 * time.Millisecond,
	}))
	reg.Register(actions.NewFileReadAction(dir, true))
	reg.Register(actions.NewWaitAction())
	return reg
}

func TestRouterDeliversResult(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("content"), 0o600); err != nil {
		t.Fatal(err)
	}
	sink := &fakeSink{}
	r := New(Config{
		AgentID: "a1",
		Actions: newTestRegistry(dir),
		Sink:    sink,
	})

	r.Execute(context.Background(), "act-1", "file_read", map[string]any{"path": "f.txt"}, false)
	<-r.Done()

	results, _ := sink.snapshot()
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].ActionID != "act-1" || results[0].IsError {
		t.Errorf("result = %+v", results[0])
	}
	if results[0].Result != "content" {
		t.Errorf("content = %v", results[0].Result)
	}
}

func TestRouterCapabilityDenied(t *testing.T) {
	sink := &fakeSink{}
	r := New(Config{
		AgentID:          "a1",
		CapabilityGroups: []string{"core"}, // no filesystem
		Actions:          newTestRegistry(t.TempDir()),
		Sink:             sink,
	})

	r.Execute(context.Background(), "act-1", "file_read", map[string]any{"path": "f"}, false)
	<-r.Done()

	results, _ := sink.snapshot()
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("results = %+v", results)
	}
	if !strings.Contains(results[0].Result.(string), "not allowed") {
		t.Errorf("result = %v", results[0].Result)
	}
}

func TestRouterResolvesSecrets(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hidden.txt"), []byte("payload"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := secrets.NewStore()
	store.Set("path", "hidden.txt")

	sink := &fakeSink{}
	r := New(Config{
		AgentID: "a1",
		Actions: newTestRegistry(dir),
		Secrets: store,
		Sink:    sink,
	})

	r.Execute(context.Background(), "act-1", "file_read",
		map[string]any{"path": "{{SECRET:path}}"}, false)
	<-r.Done()

	results, _ := sink.snapshot()
	if results[0].IsError {
		t.Fatalf("result = %+v", results[0])
	}
	if results[0].Result != "payload" {
		t.Errorf("content = %v", results[0].Result)
	}
}

func TestRouterSecretResolutionFailure(t *testing.T) {
	sink := &fakeSink{}
	r := New(Config{
		AgentID: "a1",
		Actions: newTestRegistry(t.TempDir()),
		Secrets: secrets.NewStore(),
		Sink:    sink,
	})

	r.Execute(context.Background(), "act-1", "file_read",
		map[string]any{"path": "{{SECRET:missing}}"}, false)
	<-r.Done()

	results, _ := sink.snapshot()
	if !results[0].IsError {
		t.Fatal("secret failure not surfaced")
	}
}

func TestRouterAutoCompleteTodo(t *testing.T) {
	sink := &fakeSink{}
	r := New(Config{AgentID: "a1", Actions: newTestRegistry(t.TempDir()), Sink: sink})
	r.Execute(context.Background(), "act-1", "wait", map[string]any{}, true)
	<-r.Done()

	_, todosDone := sink.snapshot()
	if todosDone != 1 {
		t.Errorf("todosDone = %d, want 1", todosDone)
	}

	// Failures must not complete todos.
	sink2 := &fakeSink{}
	r2 := New(Config{AgentID: "a1", Actions: newTestRegistry(t.TempDir()), Sink: sink2})
	r2.Execute(context.Background(), "act-2", "file_read", map[string]any{}, true)
	<-r2.Done()
	if _, n := sink2.snapshot(); n != 0 {
		t.Errorf("todosDone = %d after failed action", n)
	}
}

func TestRouterShellLifecycle(t *testing.T) {
	sink := &fakeSink{}
	r := New(Config{AgentID: "a1", Actions: newTestRegistry(t.TempDir()), Sink: sink})

	go r.Execute(context.Background(), "act-1", "shell",
		map[string]any{"command": "sleep 0.3; echo finished"}, false)

	// Interim result arrives promptly.
	deadline := time.After(2 * time.Second)
	var interim capturedResult
	for {
		results, _ := sink.snapshot()
		if len(results) > 0 {
			interim = results[0]
			break
		}
		select {
		case <-deadline:
			t.Fatal("no interim result")
		case <-time.After(10 * time.Millisecond):
		}
	}
	status := interim.Result.(map[string]any)
	if status["status"] != "running" {
		t.Fatalf("interim = %v", interim.Result)
	}
	commandID := status["command_id"].(string)
	if commandID != r.CommandID() {
		t.Errorf("command id mismatch")
	}

	st, err := r.ShellStatus(commandID)
	if err != nil {
		t.Fatal(err)
	}
	if st["command_id"] != commandID {
		t.Errorf("status = %v", st)
	}
	if _, err := r.ShellStatus("bogus"); !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("err = %v, want ErrCommandNotFound", err)
	}

	select {
	case <-r.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("router never finished")
	}

	results, _ := sink.snapshot()
	if len(results) != 2 {
		t.Fatalf("results = %d, want interim + final", len(results))
	}
	final := results[1].Result.(map[string]any)
	if !strings.Contains(final["output"].(string), "finished") {
		t.Errorf("final output = %v", final["output"])
	}
}

func TestRouterStopKillsShell(t *testing.T) {
	sink := &fakeSink{}
	r := New(Config{AgentID: "a1", Actions: newTestRegistry(t.TempDir()), Sink: sink})

	go r.Execute(context.Background(), "act-1", "shell",
		map[string]any{"command": "sleep 30"}, false)

	// Wait for the shell slot to fill.
	deadline := time.After(2 * time.Second)
	for r.CommandID() == "" {
		select {
		case <-deadline:
			t.Fatal("shell slot never filled")
		case <-time.After(10 * time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-r.Done():
	default:
		t.Error("router alive after Stop")
	}
}

func TestRouterPublishesActionEvents(t *testing.T) {
	b := bus.New()
	var mu sync.Mutex
	var events []string
	b.Subscribe(protocol.TopicActions, "test", func(ev bus.Event) {
		mu.Lock()
		events = append(events, ev.Type)
		mu.Unlock()
	})

	sink := &fakeSink{}
	r := New(Config{AgentID: "a1", Actions: newTestRegistry(t.TempDir()), Bus: b, Sink: sink})
	r.Execute(context.Background(), "act-1", "wait", map[string]any{}, false)
	<-r.Done()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != protocol.EventActionStarted || events[1] != protocol.EventActionCompleted {
		t.Errorf("events = %v", events)
	}
}
