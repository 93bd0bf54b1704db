package cost

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/gohive/internal/bus"
	"github.com/nextlevelbuilder/gohive/internal/store"
	"github.com/nextlevelbuilder/gohive/pkg/protocol"
)

func TestAddIsImmutable(t *testing.T) {
	base := NewAccumulator()
	a := base.AddLLM("agent-1", "task-1", "model-a", 0.01, nil)
	b := base.AddLLM("agent-1", "task-1", "model-b", 0.02, nil)

	if !base.Empty() {
		t.Error("base accumulator mutated by Add")
	}
	if len(a.Records()) != 1 || len(b.Records()) != 1 {
		t.Errorf("records = %d, %d; want 1, 1", len(a.Records()), len(b.Records()))
	}
}

func TestMerge(t *testing.T) {
	a := NewAccumulator().AddLLM("a", "t", "m1", 0.01, nil)
	b := NewAccumulator().AddEmbedding("a", "t", 0.002, nil)

	merged := a.Merge(b)
	if len(merged.Records()) != 2 {
		t.Fatalf("merged records = %d, want 2", len(merged.Records()))
	}
	if got, want := merged.TotalUSD(), 0.012; got != want {
		t.Errorf("TotalUSD = %v, want %v", got, want)
	}
	// Merge with empty returns the receiver unchanged.
	if got := a.Merge(NewAccumulator()); len(got.Records()) != 1 {
		t.Errorf("merge with empty changed record count")
	}
}

func TestFlushWritesAndBroadcasts(t *testing.T) {
	backend := store.NewMemoryBackend()
	b := bus.New()

	var events []bus.Event
	b.Subscribe(protocol.TopicAgentCosts("agent-1"), "test", func(ev bus.Event) {
		events = append(events, ev)
	})

	acc := NewAccumulator().
		AddLLM("agent-1", "task-1", "model-a", 0.03, nil).
		AddEmbedding("agent-1", "task-1", 0.001, nil)
	acc.Flush(context.Background(), backend, b, "agent-1")

	if got := len(backend.CostRecords()); got != 2 {
		t.Errorf("persisted %d records, want 2", got)
	}
	if len(events) != 2 {
		t.Fatalf("broadcast %d events, want 2", len(events))
	}
	if events[0].Type != protocol.EventCostRecorded {
		t.Errorf("event type = %q", events[0].Type)
	}
}

type failingCostStore struct{ calls int }

func (f *failingCostStore) PutCostRecord(context.Context, store.CostRecord) error {
	f.calls++
	return context.DeadlineExceeded
}

func TestFlushStoreFailureStillBroadcasts(t *testing.T) {
	fs := &failingCostStore{}
	b := bus.New()
	events := 0
	b.Subscribe(protocol.TopicAgentCosts("a"), "t", func(bus.Event) { events++ })

	NewAccumulator().AddLLM("a", "t", "m", 0.01, nil).Flush(context.Background(), fs, b, "a")

	if fs.calls != 1 {
		t.Errorf("store calls = %d, want 1", fs.calls)
	}
	if events != 1 {
		t.Errorf("broadcasts = %d, want 1 despite store failure", events)
	}
}
