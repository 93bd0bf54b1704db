// Package router runs exactly one action for exactly one agent. A router is
// spawned per dispatch, delivers its result back asynchronously, and dies.
// Long-running shell commands keep the router alive so status and terminate
// calls can reach the command by its id.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/gohive/internal/actions"
	"github.com/nextlevelbuilder/gohive/internal/bus"
	"github.com/nextlevelbuilder/gohive/internal/secrets"
	"github.com/nextlevelbuilder/gohive/internal/telemetry"
	"github.com/nextlevelbuilder/gohive/pkg/protocol"
)

// ErrCommandNotFound is returned for status/terminate calls naming a command
// this router does not hold.
var ErrCommandNotFound = errors.New("command not found")

// ResultSink receives the router's outputs. Implemented by the agent; calls
// go through the agent's mailbox.
type ResultSink interface {
	DeliverResult(actionID string, result any, isError bool)
	MarkFirstTodoDone()
}

// Config wires one router.
type Config struct {
	AgentID          string
	TaskID           string
	CapabilityGroups []string
	Actions          *actions.Registry
	Secrets          *secrets.Store
	Bus              *bus.Bus
	Sink             ResultSink
	Logger           *slog.Logger
}

// Router executes one action. The single shell slot holds at most one
// background command; never a map of commands.
type Router struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	shell *actions.RunningCommand

	done chan struct{}
}

func New(cfg Config) *Router {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{cfg: cfg, log: log, done: make(chan struct{})}
}

// Done closes when the router has fully finished, including any background
// shell command. The agent uses it as the monitor.
func (r *Router) Done() <-chan struct{} { return r.done }

// Execute runs the action and delivers the result. Run it on its own
// goroutine; the agent returns to its mailbox immediately after spawning.
func (r *Router) Execute(ctx context.Context, actionID, actionType string, params map[string]any, autoCompleteTodo bool) {
	result, isError, background := r.execute(ctx, actionID, actionType, params, autoCompleteTodo)
	r.cfg.Sink.DeliverResult(actionID, result, isError)
	if !background {
		close(r.done)
	}
}

func (r *Router) execute(ctx context.Context, actionID, actionType string, params map[string]any, autoCompleteTodo bool) (result any, isError, background bool) {
	started := time.Now()
	r.publishAction(protocol.EventActionStarted, actionID, actionType, false, 0)

	tracer := telemetry.Tracer("gohive/router")
	ctx, span := tracer.Start(ctx, "action.execute")
	span.SetAttributes(
		attribute.String("agent.id", r.cfg.AgentID),
		attribute.String("action.id", actionID),
		attribute.String("action.type", actionType),
	)
	defer func() {
		if isError {
			span.SetStatus(codes.Error, actionType)
		}
		span.End()
		// Background commands publish their completion from awaitShell.
		if !background {
			r.publishAction(protocol.EventActionCompleted, actionID, actionType, isError, time.Since(started))
		}
	}()

	ctx = actions.WithAgentID(ctx, r.cfg.AgentID)
	ctx = actions.WithTaskID(ctx, r.cfg.TaskID)
	ctx = actions.WithCapabilityGroups(ctx, r.cfg.CapabilityGroups)

	action, err := r.cfg.Actions.Get(actionType)
	if err != nil {
		return err.Error(), true, false
	}
	if !actions.Allowed(action, r.cfg.CapabilityGroups) {
		r.log.Warn("router.action_denied",
			"agent_id", r.cfg.AgentID, "action", actionType)
		return fmt.Sprintf("%v: %s", actions.ErrActionNotAllowed, actionType), true, false
	}

	if r.cfg.Secrets != nil {
		params, err = r.cfg.Secrets.ResolveParams(params)
		if err != nil {
			return fmt.Sprintf("secret resolution: %v", err), true, false
		}
	}

	res := action.Execute(ctx, params)

	if res.Async && res.Command != nil {
		r.mu.Lock()
		r.shell = res.Command
		r.mu.Unlock()
		go r.awaitShell(actionID, actionType, autoCompleteTodo)
		return res.Content, false, true
	}

	if !res.IsError && autoCompleteTodo {
		r.cfg.Sink.MarkFirstTodoDone()
	}
	return res.Content, res.IsError, false
}

// awaitShell delivers the final output of a background command when it
// exits, then lets the router die.
func (r *Router) awaitShell(actionID, actionType string, autoCompleteTodo bool) {
	r.mu.Lock()
	cmd := r.shell
	r.mu.Unlock()

	<-cmd.Done()
	final := cmd.Result()
	isError := false
	if code, ok := final["exit_code"].(int); ok && code != 0 {
		isError = true
	}
	if !isError && autoCompleteTodo {
		r.cfg.Sink.MarkFirstTodoDone()
	}
	r.cfg.Sink.DeliverResult(actionID, final, isError)
	r.publishAction(protocol.EventActionCompleted, actionID, actionType, isError, 0)
	close(r.done)
}

// CommandID returns the id of the background command, or "".
func (r *Router) CommandID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shell == nil {
		return ""
	}
	return r.shell.ID
}

// ShellStatus reports the tracked command's status.
func (r *Router) ShellStatus(commandID string) (map[string]any, error) {
	r.mu.Lock()
	cmd := r.shell
	r.mu.Unlock()
	if cmd == nil || cmd.ID != commandID {
		return nil, ErrCommandNotFound
	}
	return cmd.Status(), nil
}

// ShellTerminate kills the tracked command.
func (r *Router) ShellTerminate(commandID string) (map[string]any, error) {
	r.mu.Lock()
	cmd := r.shell
	r.mu.Unlock()
	if cmd == nil || cmd.ID != commandID {
		return nil, ErrCommandNotFound
	}
	return cmd.Terminate(), nil
}

// Stop terminates any background command and waits for the router to finish.
// Used by agent teardown; the deadline is the caller's ctx (unbounded when
// ctx has none).
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	cmd := r.shell
	r.mu.Unlock()
	if cmd != nil {
		select {
		case <-cmd.Done():
		default:
			cmd.Terminate()
		}
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) publishAction(event, actionID, actionType string, isError bool, elapsed time.Duration) {
	if r.cfg.Bus == nil {
		return
	}
	r.cfg.Bus.Publish(protocol.TopicActions, event, protocol.ActionEventPayload{
		AgentID:    r.cfg.AgentID,
		ActionID:   actionID,
		ActionType: actionType,
		IsError:    isError,
		DurationMS: elapsed.Milliseconds(),
	})
}
