package consensus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/gohive/internal/bus"
	"github.com/nextlevelbuilder/gohive/internal/cost"
	"github.com/nextlevelbuilder/gohive/internal/history"
	"github.com/nextlevelbuilder/gohive/internal/providers"
	"github.com/nextlevelbuilder/gohive/internal/providers/providertest"
	"github.com/nextlevelbuilder/gohive/pkg/protocol"
)

func testInput(pool ...string) Input {
	set := history.Set{}
	for _, m := range pool {
		set[m] = nil
	}
	set.Add(history.TypePrompt, "do the task")
	return Input{
		AgentID:   "agent-1",
		TaskID:    "task-1",
		ModelPool: pool,
		Histories: set,
		Lessons:   map[string][]Lesson{},
	}
}

func decisionJSON(action string) string {
	return fmt.Sprintf(`{"action":%q,"params":{},"reasoning":"test"}`, action)
}

func TestCoordinatorMajority(t *testing.T) {
	scripted := providertest.NewScripted()
	scripted.Enqueue("m1", providertest.Response{Content: decisionJSON("shell")})
	scripted.Enqueue("m2", providertest.Response{Content: decisionJSON("shell")})
	scripted.Enqueue("m3", providertest.Response{Content: decisionJSON("wait")})

	c := New(Config{Models: providertest.NewRegistry(scripted, "m1", "m2", "m3")})
	dec, err := c.Run(context.Background(), testInput("m1", "m2", "m3"), cost.NewAccumulator())
	if err != nil {
		t.Fatal(err)
	}
	if dec.Type != "consensus" {
		t.Errorf("type = %q, want consensus", dec.Type)
	}
	if dec.Action.Action != "shell" {
		t.Errorf("action = %q, want shell", dec.Action.Action)
	}
	if dec.RoundCount != 1 {
		t.Errorf("rounds = %d, want 1", dec.RoundCount)
	}
	if len(dec.Accumulator.Records()) != 3 {
		t.Errorf("cost records = %d, want 3", len(dec.Accumulator.Records()))
	}
}

func TestCoordinatorForcedDecisionOnSplit(t *testing.T) {
	scripted := providertest.NewScripted()
	scripted.Enqueue("m1", providertest.Response{Content: decisionJSON("shell")})
	scripted.Enqueue("m2", providertest.Response{Content: decisionJSON("wait")})

	c := New(Config{Models: providertest.NewRegistry(scripted, "m1", "m2")})
	dec, err := c.Run(context.Background(), testInput("m1", "m2"), cost.NewAccumulator())
	if err != nil {
		t.Fatal(err)
	}
	if dec.Type != "forced_decision" {
		t.Errorf("type = %q, want forced_decision", dec.Type)
	}
	// Tie breaks to the earliest model in the pool.
	if dec.Action.Action != "shell" {
		t.Errorf("action = %q, want shell", dec.Action.Action)
	}
}

func TestCoordinatorRefinesWhenMinorityParsed(t *testing.T) {
	scripted := providertest.NewScripted()
	// Round one: only one of three parses.
	scripted.Enqueue("m1", providertest.Response{Content: "I think we should run a shell command."})
	scripted.Enqueue("m2", providertest.Response{Content: decisionJSON("shell")})
	scripted.Enqueue("m3", providertest.Response{Content: "not sure"})
	// Round two: everyone complies.
	scripted.Enqueue("m1", providertest.Response{Content: decisionJSON("shell")})
	scripted.Enqueue("m2", providertest.Response{Content: decisionJSON("shell")})
	scripted.Enqueue("m3", providertest.Response{Content: decisionJSON("shell")})

	c := New(Config{Models: providertest.NewRegistry(scripted, "m1", "m2", "m3")})
	dec, err := c.Run(context.Background(), testInput("m1", "m2", "m3"), cost.NewAccumulator())
	if err != nil {
		t.Fatal(err)
	}
	if dec.RoundCount != 2 {
		t.Fatalf("rounds = %d, want 2", dec.RoundCount)
	}
	if dec.Type != "consensus" {
		t.Errorf("type = %q, want consensus", dec.Type)
	}

	// The second round carries the refinement instruction.
	calls := scripted.CallsForModel("m1")
	if len(calls) != 2 {
		t.Fatalf("m1 calls = %d, want 2", len(calls))
	}
	last := calls[1].Messages[len(calls[1].Messages)-1]
	if !strings.Contains(last.Content, "could not be used") {
		t.Errorf("refinement prompt missing: %q", last.Content)
	}
}

func TestCoordinatorAllModelsFailed(t *testing.T) {
	scripted := providertest.NewScripted()
	failure := errors.New("upstream down")
	scripted.Default = providertest.Response{Err: failure}

	c := New(Config{Models: providertest.NewRegistry(scripted, "m1", "m2")})
	dec, err := c.Run(context.Background(), testInput("m1", "m2"), cost.NewAccumulator())
	if !errors.Is(err, ErrAllModelsFailed) {
		t.Fatalf("err = %v, want ErrAllModelsFailed", err)
	}
	if dec == nil {
		t.Fatal("decision must still carry the accumulator on failure")
	}
}

func TestCoordinatorEmptyPool(t *testing.T) {
	c := New(Config{Models: providertest.NewRegistry(providertest.NewScripted())})
	_, err := c.Run(context.Background(), Input{AgentID: "a"}, cost.NewAccumulator())
	if !errors.Is(err, ErrEmptyModelPool) {
		t.Fatalf("err = %v, want ErrEmptyModelPool", err)
	}
}

func TestCoordinatorWaitAutocorrect(t *testing.T) {
	scripted := providertest.NewScripted()
	scripted.Default = providertest.Response{
		Content: `{"action":"todo","params":{"op":"add","content":"x"},"wait":true,"reasoning":"r"}`,
	}

	c := New(Config{Models: providertest.NewRegistry(scripted, "m1")})
	dec, err := c.Run(context.Background(), testInput("m1"), cost.NewAccumulator())
	if err != nil {
		t.Fatal(err)
	}
	if dec.Action.Wait.True() {
		t.Error("wait=true on a self-contained action was not corrected")
	}

	// A shell action keeps its wait.
	scripted2 := providertest.NewScripted()
	scripted2.Default = providertest.Response{
		Content: `{"action":"shell","params":{"command":"sleep 5"},"wait":true,"reasoning":"r"}`,
	}
	c2 := New(Config{Models: providertest.NewRegistry(scripted2, "m1")})
	dec2, err := c2.Run(context.Background(), testInput("m1"), cost.NewAccumulator())
	if err != nil {
		t.Fatal(err)
	}
	if !dec2.Action.Wait.True() {
		t.Error("wait=true on shell was incorrectly cleared")
	}
}

func TestCoordinatorBroadcastsSentMessages(t *testing.T) {
	scripted := providertest.NewScripted()
	scripted.Default = providertest.Response{Content: decisionJSON("wait")}

	b := bus.New()
	var got []protocol.SentModelMessages
	b.Subscribe(protocol.TopicAgentLogs("agent-1"), "test", func(ev bus.Event) {
		if p, ok := ev.Payload.(protocol.LogEntryPayload); ok {
			got = p.Metadata.SentMessages
		}
	})

	c := New(Config{Models: providertest.NewRegistry(scripted, "m1", "m2"), Bus: b})
	if _, err := c.Run(context.Background(), testInput("m1", "m2"), cost.NewAccumulator()); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("sent_messages for %d models, want 2", len(got))
	}
	msgs, ok := got[0].Messages.([]providers.Message)
	if !ok || len(msgs) == 0 {
		t.Fatalf("broadcast messages = %T", got[0].Messages)
	}
	// The broadcast list is post-injection: the ctx block must be present.
	var hasCtx bool
	for _, m := range msgs {
		if strings.Contains(m.Content, "<ctx>") {
			hasCtx = true
		}
	}
	if !hasCtx {
		t.Error("broadcast messages missing injector output")
	}
}

func TestCoordinatorCondensesOnOverflow(t *testing.T) {
	scripted := providertest.NewScripted()
	// First attempt overflows.
	scripted.Enqueue("m1", providertest.Response{
		Err: fmt.Errorf("bad request: %w", providers.ErrContextLengthExceeded),
	})
	// The reflector call comes next on the same model.
	scripted.Enqueue("m1", providertest.Response{
		Content: `{"lessons":[{"type":"factual","content":"API limit is 100 rps","confidence":0.8}],` +
			`"state":[{"summary":"halfway through migration"}]}`,
	})
	// Retry succeeds.
	scripted.Enqueue("m1", providertest.Response{Content: decisionJSON("shell")})

	in := testInput("m1")
	for i := 0; i < 30; i++ {
		in.Histories.Add(history.TypeEvent, fmt.Sprintf("event %d", i))
	}

	c := New(Config{Models: providertest.NewRegistry(scripted, "m1")})
	dec, err := c.Run(context.Background(), in, cost.NewAccumulator())
	if err != nil {
		t.Fatal(err)
	}
	if dec.Action.Action != "shell" {
		t.Errorf("action = %q, want shell", dec.Action.Action)
	}

	ace, ok := dec.ACEUpdates["m1"]
	if !ok {
		t.Fatal("condensation produced no ACE update")
	}
	if len(ace.Lessons) != 1 || ace.Lessons[0].Content != "API limit is 100 rps" {
		t.Errorf("lessons = %+v", ace.Lessons)
	}
	if ace.State == nil || ace.State.Summary != "halfway through migration" {
		t.Errorf("state = %+v", ace.State)
	}

	// The condensed replacement rides in the ACE update; the shared input
	// set is left alone for the agent to swap after the cycle.
	if got := len(ace.Condensed); got != condenseKeepEntries {
		t.Errorf("condensed history length = %d, want %d", got, condenseKeepEntries)
	}
	if got := len(in.Histories["m1"]); got != 31 {
		t.Errorf("input history mutated during the cycle: %d entries, want 31", got)
	}

	// The retry message list carries the fresh lessons.
	calls := scripted.CallsForModel("m1")
	if len(calls) != 3 {
		t.Fatalf("m1 calls = %d, want 3 (attempt, reflection, retry)", len(calls))
	}
	retry := calls[2].Messages
	var hasLessons bool
	for _, m := range retry {
		if strings.Contains(m.Content, "API limit is 100 rps") {
			hasLessons = true
		}
	}
	if !hasLessons {
		t.Error("retry assembly missing condensed lessons")
	}

	// Attempt + reflection + retry all produced usage.
	if got := len(dec.Accumulator.Records()); got != 2 {
		t.Errorf("cost records = %d, want 2 (reflection + retry; the failed attempt has no usage)", got)
	}
}

func TestCoordinatorConcurrentCondensationsLeaveInputAlone(t *testing.T) {
	reflection := `{"lessons":[{"type":"behavioral","content":"summarize earlier","confidence":0.7}],` +
		`"state":[{"summary":"long running task"}]}`

	scripted := providertest.NewScripted()
	// m1 and m3 overflow while m2 and m4 answer immediately, so two
	// condensations run inside the fan-out at the same time as two reads.
	for _, m := range []string{"m1", "m3"} {
		scripted.Enqueue(m, providertest.Response{
			Err: fmt.Errorf("request too large: %w", providers.ErrContextLengthExceeded),
		})
		scripted.Enqueue(m, providertest.Response{Content: reflection})
		scripted.Enqueue(m, providertest.Response{Content: decisionJSON("shell")})
	}
	scripted.Default = providertest.Response{Content: decisionJSON("shell")}

	in := testInput("m1", "m2", "m3", "m4")
	for i := 0; i < 40; i++ {
		in.Histories.Add(history.TypeEvent, fmt.Sprintf("event %d", i))
	}
	before := len(in.Histories["m1"])

	c := New(Config{Models: providertest.NewRegistry(scripted, "m1", "m2", "m3", "m4")})
	dec, err := c.Run(context.Background(), in, cost.NewAccumulator())
	if err != nil {
		t.Fatal(err)
	}
	if dec.Action.Action != "shell" {
		t.Errorf("action = %q, want shell", dec.Action.Action)
	}

	for _, m := range []string{"m1", "m2", "m3", "m4"} {
		if got := len(in.Histories[m]); got != before {
			t.Errorf("history %s mutated during the cycle: %d entries, want %d", m, got, before)
		}
	}
	for _, m := range []string{"m1", "m3"} {
		ace, ok := dec.ACEUpdates[m]
		if !ok {
			t.Fatalf("no ACE update for %s", m)
		}
		if got := len(ace.Condensed); got != condenseKeepEntries {
			t.Errorf("condensed history for %s = %d entries, want %d", m, got, condenseKeepEntries)
		}
	}
	if _, ok := dec.ACEUpdates["m2"]; ok {
		t.Error("ACE update for a model that never condensed")
	}
}

func TestCoordinatorNoDecision(t *testing.T) {
	scripted := providertest.NewScripted()
	scripted.Default = providertest.Response{Content: "no JSON at all"}

	c := New(Config{Models: providertest.NewRegistry(scripted, "m1")})
	dec, err := c.Run(context.Background(), testInput("m1"), cost.NewAccumulator())
	if !errors.Is(err, ErrNoDecision) {
		t.Fatalf("err = %v, want ErrNoDecision", err)
	}
	// Queries succeeded, so costs were accumulated even without a decision.
	if dec.Accumulator.Empty() {
		t.Error("accumulator empty despite completed queries")
	}
	if dec.RoundCount != 2 {
		t.Errorf("rounds = %d, want 2 (a refinement was attempted)", dec.RoundCount)
	}
}
