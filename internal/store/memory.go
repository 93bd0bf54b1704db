package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStores is an in-process backend used by tests and as a fallback when
// no database is configured.
type MemoryStores struct {
	mu     sync.RWMutex
	agents map[string]AgentRecord
	costs  []CostRecord
}

func NewMemoryStores() *Stores {
	m := &MemoryStores{agents: make(map[string]AgentRecord)}
	return &Stores{Agents: m, Costs: m}
}

// NewMemoryBackend returns the raw backend for tests that inspect writes.
func NewMemoryBackend() *MemoryStores {
	return &MemoryStores{agents: make(map[string]AgentRecord)}
}

func (m *MemoryStores) PutAgent(_ context.Context, rec AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.agents[rec.AgentID] = rec
	return nil
}

func (m *MemoryStores) UpdateAgentState(_ context.Context, agentID string, state map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	rec.State = state
	rec.UpdatedAt = time.Now().UTC()
	m.agents[agentID] = rec
	return nil
}

func (m *MemoryStores) GetAgent(_ context.Context, agentID string) (AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.agents[agentID]
	if !ok {
		return AgentRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStores) PutCostRecord(_ context.Context, rec CostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.costs = append(m.costs, rec)
	return nil
}

// CostRecords returns a snapshot of all persisted cost records.
func (m *MemoryStores) CostRecords() []CostRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CostRecord, len(m.costs))
	copy(out, m.costs)
	return out
}
