package actions

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Dangerous command patterns denied regardless of capability grants.
var shellDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b|\bformat\s`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`/var/run/docker\.sock`),
	regexp.MustCompile(`\bprintenv\b`),
	regexp.MustCompile(`^\s*env\s*($|\||>)`),
}

// maxShellOutput caps captured stdout+stderr per command.
const maxShellOutput = 64 * 1024

// DefaultSyncThreshold is how long a shell command may run before the action
// returns {status: running} and continues in the background.
const DefaultSyncThreshold = 100 * time.Millisecond

// RunningCommand tracks one background shell command. The router holds at
// most one of these at a time.
type RunningCommand struct {
	ID      string
	Command string

	mu       sync.Mutex
	cmd      *exec.Cmd
	output   *boundedBuffer
	done     chan struct{}
	exitCode int
	runErr   error
	started  time.Time
}

// Done closes when the command exits.
func (c *RunningCommand) Done() <-chan struct{} { return c.done }

// Status reports the command's current state and captured output so far.
func (c *RunningCommand) Status() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := map[string]any{
		"command_id": c.ID,
		"output":     c.output.String(),
		"elapsed_ms": time.Since(c.started).Milliseconds(),
	}
	select {
	case <-c.done:
		st["status"] = "exited"
		st["exit_code"] = c.exitCode
		if c.runErr != nil {
			st["error"] = c.runErr.Error()
		}
	default:
		st["status"] = "running"
	}
	return st
}

// Terminate kills the command's process group and waits for exit.
func (c *RunningCommand) Terminate() map[string]any {
	c.mu.Lock()
	proc := c.cmd.Process
	c.mu.Unlock()
	if proc != nil {
		// Negative pid signals the whole group (Setpgid below).
		syscall.Kill(-proc.Pid, syscall.SIGKILL)
	}
	<-c.done
	st := c.Status()
	st["status"] = "terminated"
	return st
}

// Result returns the final result map once the command has exited.
func (c *RunningCommand) Result() map[string]any {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]any{
		"command_id": c.ID,
		"exit_code":  c.exitCode,
		"output":     c.output.String(),
	}
	if c.runErr != nil {
		out["error"] = c.runErr.Error()
	}
	return out
}

// ShellAction runs shell commands with a smart sync/async threshold: fast
// commands return their output directly, slow ones return {status: running}
// with a command id and keep executing in the background.
type ShellAction struct {
	workingDir    string
	syncThreshold time.Duration
	timeout       time.Duration
	denyPatterns  []*regexp.Regexp
}

// ShellConfig configures the shell action. Zero values take defaults.
type ShellConfig struct {
	WorkingDir    string
	SyncThreshold time.Duration
	Timeout       time.Duration
}

func NewShellAction(cfg ShellConfig) *ShellAction {
	if cfg.SyncThreshold <= 0 {
		cfg.SyncThreshold = DefaultSyncThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &ShellAction{
		workingDir:    cfg.WorkingDir,
		syncThreshold: cfg.SyncThreshold,
		timeout:       cfg.Timeout,
		denyPatterns:  shellDenyPatterns,
	}
}

func (a *ShellAction) Name() string            { return "shell" }
func (a *ShellAction) CapabilityGroup() string { return "shell" }
func (a *ShellAction) Description() string {
	return "Execute a shell command; long-running commands continue in the background"
}

func (a *ShellAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Optional working directory",
			},
		},
		"required": []string{"command"},
	}
}

func (a *ShellAction) Execute(ctx context.Context, params map[string]any) *Result {
	command, _ := params["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}
	for _, pattern := range a.denyPatterns {
		if pattern.MatchString(command) {
			return ErrorResult(fmt.Sprintf("command denied by safety policy: matches %s", pattern))
		}
	}

	cwd := a.workingDir
	if wd, _ := params["working_dir"].(string); wd != "" {
		cwd = wd
	}

	rc := &RunningCommand{
		ID:      uuid.NewString(),
		Command: command,
		output:  newBoundedBuffer(maxShellOutput),
		done:    make(chan struct{}),
		started: time.Now(),
	}

	// The command must outlive this call when it crosses the threshold, so
	// it gets its own timeout rather than the dispatch ctx.
	cmdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = cwd
	cmd.Stdout = rc.output
	cmd.Stderr = rc.output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	rc.cmd = cmd

	if err := cmd.Start(); err != nil {
		cancel()
		return ErrorResult(fmt.Sprintf("start command: %v", err)).WithError(err)
	}

	go func() {
		defer cancel()
		err := cmd.Wait()
		rc.mu.Lock()
		rc.runErr = err
		rc.exitCode = cmd.ProcessState.ExitCode()
		rc.mu.Unlock()
		close(rc.done)
	}()

	select {
	case <-rc.done:
		res := rc.Result()
		if code, _ := res["exit_code"].(int); code != 0 {
			return &Result{Content: res, IsError: true}
		}
		return NewResult(res)
	case <-time.After(a.syncThreshold):
		return AsyncResult(map[string]any{
			"status":     "running",
			"command_id": rc.ID,
		}, rc)
	}
}

// boundedBuffer caps writes, dropping the tail past the limit.
type boundedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
			b.buf.WriteString("\n…(output truncated)")
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
