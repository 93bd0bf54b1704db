package cost

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/bus"
	"github.com/nextlevelbuilder/gohive/internal/store"
	"github.com/nextlevelbuilder/gohive/pkg/protocol"
)

// Accumulator collects cost records during a consensus cycle. It is an
// immutable value: Add returns a new accumulator, so partially-built
// accumulators can be threaded through concurrent per-model queries and
// merged without locks.
type Accumulator struct {
	records []store.CostRecord
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() Accumulator { return Accumulator{} }

// Add returns a new accumulator with the record appended.
func (a Accumulator) Add(rec store.CostRecord) Accumulator {
	out := make([]store.CostRecord, len(a.records)+1)
	copy(out, a.records)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	out[len(a.records)] = rec
	return Accumulator{records: out}
}

// AddLLM is shorthand for an "llm" cost entry.
func (a Accumulator) AddLLM(agentID, taskID, modelID string, usd float64, meta map[string]any) Accumulator {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["model_id"] = modelID
	return a.Add(store.CostRecord{
		AgentID: agentID, TaskID: taskID, CostType: "llm", CostUSD: usd, Metadata: meta,
	})
}

// AddEmbedding is shorthand for an "embedding" cost entry.
func (a Accumulator) AddEmbedding(agentID, taskID string, usd float64, meta map[string]any) Accumulator {
	return a.Add(store.CostRecord{
		AgentID: agentID, TaskID: taskID, CostType: "embedding", CostUSD: usd, Metadata: meta,
	})
}

// Merge combines two accumulators (fan-in from concurrent model queries).
func (a Accumulator) Merge(b Accumulator) Accumulator {
	if len(b.records) == 0 {
		return a
	}
	out := make([]store.CostRecord, 0, len(a.records)+len(b.records))
	out = append(out, a.records...)
	out = append(out, b.records...)
	return Accumulator{records: out}
}

// Records returns the accumulated entries.
func (a Accumulator) Records() []store.CostRecord { return a.records }

// Empty reports whether nothing has been accumulated.
func (a Accumulator) Empty() bool { return len(a.records) == 0 }

// TotalUSD sums all accumulated cost.
func (a Accumulator) TotalUSD() float64 {
	var t float64
	for _, r := range a.records {
		t += r.CostUSD
	}
	return t
}

// Flush writes every record to the cost store and publishes a cost_recorded
// event per record on the agent's costs topic. Persistence failures are
// logged, never fatal; the broadcast still happens so UIs stay live even when
// the store is down. Callers must flush even when the consensus cycle failed.
func (a Accumulator) Flush(ctx context.Context, costs store.CostStore, b *bus.Bus, agentID string) {
	for _, rec := range a.records {
		if costs != nil {
			if err := costs.PutCostRecord(ctx, rec); err != nil {
				slog.Warn("cost.persist_failed", "agent", agentID, "cost_type", rec.CostType, "error", err)
			}
		}
		if b != nil {
			b.Publish(protocol.TopicAgentCosts(agentID), protocol.EventCostRecorded, rec)
		}
	}
}
