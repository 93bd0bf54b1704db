// Package supervisor owns agent lifecycles: one-for-one restarts for agents
// whose run loop dies abnormally, bounded by a restart budget over a sliding
// window so a crash-looping agent cannot spin forever.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/agent"
	"github.com/nextlevelbuilder/gohive/internal/config"
	"github.com/nextlevelbuilder/gohive/internal/store"
)

// ErrUnknownAgent is returned for operations on an id the supervisor does not
// manage.
var ErrUnknownAgent = errors.New("unknown agent")

// Config wires a supervisor.
type Config struct {
	Env              agent.Env
	DefaultModelPool []string      // fills spawn configs that omit a pool
	MaxRestarts      int           // abnormal exits tolerated per window, default 3
	RestartWindow    time.Duration // default 1m
	Logger           *slog.Logger
}

type entry struct {
	agent    *agent.Agent
	cfg      config.AgentConfig
	restarts []time.Time
	stopping bool
}

// Supervisor tracks every agent it started and restarts the ones that fail.
type Supervisor struct {
	env           agent.Env
	defaultPool   []string
	maxRestarts   int
	restartWindow time.Duration
	log           *slog.Logger

	mu     sync.Mutex
	agents map[string]*entry
	closed bool
}

func New(cfg Config) *Supervisor {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	max := cfg.MaxRestarts
	if max <= 0 {
		max = 3
	}
	window := cfg.RestartWindow
	if window <= 0 {
		window = time.Minute
	}
	return &Supervisor{
		env:           cfg.Env,
		defaultPool:   cfg.DefaultModelPool,
		maxRestarts:   max,
		restartWindow: window,
		log:           log,
		agents:        make(map[string]*entry),
	}
}

// StartAgent spawns and supervises a new agent.
func (s *Supervisor) StartAgent(ctx context.Context, cfg config.AgentConfig) (*agent.Agent, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("supervisor closed")
	}
	if _, exists := s.agents[cfg.AgentID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("agent %q already supervised", cfg.AgentID)
	}
	s.mu.Unlock()

	if len(cfg.ModelPool) == 0 {
		cfg.ModelPool = config.FlexibleStringSlice(s.defaultPool)
	}
	a, err := agent.New(s.env, cfg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	e := &entry{agent: a, cfg: cfg}
	s.agents[cfg.AgentID] = e
	s.mu.Unlock()

	go s.monitor(cfg.AgentID, a)
	s.log.Info("supervisor.agent_started", "agent_id", cfg.AgentID, "task_id", cfg.TaskID)
	return a, nil
}

// RestoreAgent rebuilds an agent from its persisted snapshot and supervises
// it. The stored state seeds histories, lessons, todos, and spend.
func (s *Supervisor) RestoreAgent(ctx context.Context, agentID string) (*agent.Agent, error) {
	if s.env.Stores == nil || s.env.Stores.Agents == nil {
		return nil, fmt.Errorf("no agent store configured")
	}
	rec, err := s.env.Stores.Agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent %q: %w", agentID, err)
	}
	cfg := configFromRecord(rec)
	s.log.Info("supervisor.agent_restored", "agent_id", agentID, "task_id", cfg.TaskID)
	return s.StartAgent(ctx, cfg)
}

// TerminateAgent stops an agent deliberately; no restart follows.
func (s *Supervisor) TerminateAgent(ctx context.Context, agentID string) error {
	s.mu.Lock()
	e, ok := s.agents[agentID]
	if ok {
		e.stopping = true
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return e.agent.Terminate(ctx)
}

// Lookup returns a supervised agent by id.
func (s *Supervisor) Lookup(agentID string) (*agent.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.agents[agentID]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// List returns the supervised agent ids.
func (s *Supervisor) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.agents))
	for id := range s.agents {
		out = append(out, id)
	}
	return out
}

// Close terminates every supervised agent and stops restarting.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	entries := make([]*entry, 0, len(s.agents))
	for _, e := range s.agents {
		e.stopping = true
		entries = append(entries, e)
	}
	s.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := e.agent.Terminate(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// monitor waits for the agent to die and decides whether to restart it.
func (s *Supervisor) monitor(agentID string, a *agent.Agent) {
	<-a.Done()

	s.mu.Lock()
	e, tracked := s.agents[agentID]
	if !tracked || e.agent != a {
		s.mu.Unlock()
		return
	}
	if e.stopping || s.closed || !a.Failed() {
		delete(s.agents, agentID)
		s.mu.Unlock()
		s.log.Info("supervisor.agent_stopped", "agent_id", agentID)
		return
	}

	recent, allowed := allowRestart(e.restarts, time.Now(), s.maxRestarts, s.restartWindow)
	e.restarts = recent
	if !allowed {
		delete(s.agents, agentID)
		s.mu.Unlock()
		s.log.Error("supervisor.restart_budget_exhausted",
			"agent_id", agentID, "restarts", len(recent), "window", s.restartWindow)
		return
	}
	cfg := e.cfg
	restarts := e.restarts
	s.mu.Unlock()

	s.log.Warn("supervisor.agent_restarting", "agent_id", agentID, "attempt", len(restarts))

	// Restart from the persisted snapshot so the replacement picks up the
	// histories the failed instance already accumulated.
	ctx := context.Background()
	if s.env.Stores != nil && s.env.Stores.Agents != nil {
		if rec, err := s.env.Stores.Agents.GetAgent(ctx, agentID); err == nil {
			cfg.RestoredState = rec.State
			cfg.Prompt = "" // the original prompt already lives in the restored history
		}
	}

	replacement, err := agent.New(s.env, cfg)
	if err != nil {
		s.mu.Lock()
		delete(s.agents, agentID)
		s.mu.Unlock()
		s.log.Error("supervisor.restart_failed", "agent_id", agentID, "error", err)
		return
	}

	s.mu.Lock()
	e.agent = replacement
	s.mu.Unlock()
	go s.monitor(agentID, replacement)
}

// allowRestart applies the restart budget: drop window-expired timestamps,
// then permit the restart only while fewer than max remain. The returned
// slice includes the new restart when allowed.
func allowRestart(restarts []time.Time, now time.Time, max int, window time.Duration) ([]time.Time, bool) {
	recent := restarts[:0]
	for _, ts := range restarts {
		if now.Sub(ts) < window {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= max {
		return recent, false
	}
	return append(recent, now), true
}

// configFromRecord rebuilds a spawn config from the persisted row.
func configFromRecord(rec store.AgentRecord) config.AgentConfig {
	cfg := config.AgentConfig{
		AgentID:         rec.AgentID,
		TaskID:          rec.TaskID,
		ParentID:        rec.ParentID,
		RestorationMode: true,
		RestoredState:   rec.State,
	}
	cfg.CapabilityGroups = toStrings(rec.Config["capability_groups"])
	cfg.ModelPool = toStrings(rec.Config["model_pool"])
	cfg.Skills = toStrings(rec.Config["skills"])
	cfg.ActiveSkills = toStrings(rec.Config["active_skills"])
	if v, ok := rec.Config["profile_name"].(string); ok {
		cfg.ProfileName = v
	}
	if v, ok := rec.Config["profile_description"].(string); ok {
		cfg.ProfileDescription = v
	}
	if v, ok := rec.Config["budget_limit_usd"].(float64); ok {
		cfg.BudgetLimitUSD = v
	}
	return cfg
}

// toStrings tolerates both JSON-decoded []any and in-process []string values.
func toStrings(raw any) config.FlexibleStringSlice {
	switch list := raw.(type) {
	case nil:
		return nil
	case []string:
		return config.FlexibleStringSlice(list)
	case config.FlexibleStringSlice:
		return list
	case []any:
		out := make(config.FlexibleStringSlice, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
