// Package cron wakes agents on schedules: each entry delivers a message to
// its agent when the cron expression comes due, which cancels any wait timer
// and triggers a consensus cycle like any other inbound message.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/gohive/internal/config"
	"github.com/nextlevelbuilder/gohive/internal/supervisor"
)

// Config wires the scheduler.
type Config struct {
	Entries    []config.CronEntry
	Supervisor *supervisor.Supervisor
	Logger     *slog.Logger

	// Tick defaults to one minute, matching cron granularity. Tests shrink it.
	Tick time.Duration
}

type entry struct {
	config.CronEntry
	lastFired time.Time // minute-truncated, so one fire per due minute
}

// Scheduler checks entries every tick and delivers due wake messages.
type Scheduler struct {
	sup  *supervisor.Supervisor
	log  *slog.Logger
	tick time.Duration
	gx   *gronx.Gronx

	mu      sync.Mutex
	entries []*entry
	cancel  context.CancelFunc
	done    chan struct{}
}

// New validates every expression up front; a typo in one entry fails fast at
// startup instead of silently never firing.
func New(cfg Config) (*Scheduler, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = time.Minute
	}
	gx := gronx.New()

	entries := make([]*entry, 0, len(cfg.Entries))
	for _, e := range cfg.Entries {
		if !gx.IsValid(e.Schedule) {
			return nil, fmt.Errorf("cron: invalid schedule %q for agent %s", e.Schedule, e.AgentID)
		}
		if e.AgentID == "" || e.Message == "" {
			return nil, fmt.Errorf("cron: entry needs agent_id and message")
		}
		entries = append(entries, &entry{CronEntry: e})
	}

	return &Scheduler{
		sup:     cfg.Supervisor,
		log:     log,
		tick:    tick,
		gx:      gx,
		entries: entries,
	}, nil
}

// Start runs the tick loop until Stop or ctx cancellation. Idempotent start
// is not supported; call once.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.fireDue(now)
			case <-ctx.Done():
				return
			}
		}
	}()
	s.log.Info("cron.started", "entries", len(s.entries), "tick", s.tick)
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) fireDue(now time.Time) {
	minute := now.Truncate(time.Minute)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.lastFired.Equal(minute) {
			continue
		}
		due, err := s.gx.IsDue(e.Schedule, now)
		if err != nil {
			s.log.Warn("cron.check_failed", "agent_id", e.AgentID, "schedule", e.Schedule, "error", err)
			continue
		}
		if !due {
			continue
		}
		e.lastFired = minute

		a, ok := s.sup.Lookup(e.AgentID)
		if !ok {
			s.log.Warn("cron.agent_missing", "agent_id", e.AgentID)
			continue
		}
		a.SendAgentMessage("cron", e.Message)
		s.log.Info("cron.fired", "agent_id", e.AgentID, "schedule", e.Schedule)
	}
}
