package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// AgentRecord is the persisted snapshot row for one agent.
type AgentRecord struct {
	AgentID   string         `json:"agent_id"`
	TaskID    string         `json:"task_id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Status    string         `json:"status"`
	Config    map[string]any `json:"config"`
	State     map[string]any `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CostRecord is one LLM or embedding cost entry.
type CostRecord struct {
	AgentID   string         `json:"agent_id"`
	TaskID    string         `json:"task_id"`
	CostType  string         `json:"cost_type"` // "llm", "embedding"
	CostUSD   float64        `json:"cost_usd"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AgentStore persists agent snapshots. Write failures are logged by callers
// and never fatal.
type AgentStore interface {
	PutAgent(ctx context.Context, rec AgentRecord) error
	UpdateAgentState(ctx context.Context, agentID string, state map[string]any) error
	GetAgent(ctx context.Context, agentID string) (AgentRecord, error)
}

// CostStore persists cost records.
type CostStore interface {
	PutCostRecord(ctx context.Context, rec CostRecord) error
}

// Stores bundles the storage backends. Standalone mode uses sqlite, managed
// mode uses Postgres; tests use the in-memory backend.
type Stores struct {
	Agents AgentStore
	Costs  CostStore

	closer func() error
}

// SetCloser attaches a shutdown hook (DB pool close).
func (s *Stores) SetCloser(fn func() error) { s.closer = fn }

// Close releases backend resources.
func (s *Stores) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}
