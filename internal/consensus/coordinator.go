package consensus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/gohive/internal/bus"
	"github.com/nextlevelbuilder/gohive/internal/cost"
	"github.com/nextlevelbuilder/gohive/internal/providers"
	"github.com/nextlevelbuilder/gohive/pkg/protocol"
)

var (
	// ErrEmptyModelPool means the agent has no models to consult.
	ErrEmptyModelPool = errors.New("consensus: empty model pool")
	// ErrAllModelsFailed means every model query errored.
	ErrAllModelsFailed = errors.New("consensus: all model queries failed")
	// ErrNoDecision means models responded but none produced a parseable action.
	ErrNoDecision = errors.New("consensus: no parseable decision")
)

// refinementPrompt is appended for the second round when too few models
// produced a usable decision in the first.
const refinementPrompt = `Your previous response could not be used. Respond with ONLY a single ` +
	`valid JSON object of the form {"action": "...", "params": {...}, "reasoning": "...", ` +
	`"wait": false, "auto_complete_todo": false} and no other text.`

// selfContainedActions complete inside the runtime with no external result to
// wait for. A wait on one of these would stall the agent until timeout, so
// the coordinator auto-corrects it.
var selfContainedActions = map[string]bool{
	"todo":         true,
	"send_message": true,
	"orient":       true,
	"file_read":    true,
	"file_write":   true,
}

// Config wires a consensus coordinator.
type Config struct {
	Models *providers.Registry
	Bus    *bus.Bus
	Logger *slog.Logger

	// MaxRefinements bounds extra rounds after the first. Defaults to 1.
	MaxRefinements int
}

// Coordinator runs consensus cycles: fan out to every model in the pool,
// tally the proposals, optionally refine once, and return a decision.
type Coordinator struct {
	bus            *bus.Bus
	log            *slog.Logger
	maxRefinements int
	query          *perModelQuery
}

func New(cfg Config) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	max := cfg.MaxRefinements
	if max <= 0 {
		max = 1
	}
	return &Coordinator{
		bus:            cfg.Bus,
		log:            log,
		maxRefinements: max,
		query: &perModelQuery{
			models:    cfg.Models,
			reflector: NewReflector(cfg.Models),
			log:       log,
		},
	}
}

// Run executes one consensus cycle. The returned decision always carries the
// accumulator, error or not, so the caller can flush costs for queries that
// completed before the cycle failed.
func (c *Coordinator) Run(ctx context.Context, in Input, acc cost.Accumulator) (*Decision, error) {
	if len(in.ModelPool) == 0 {
		return &Decision{Accumulator: acc}, ErrEmptyModelPool
	}

	outcomes := c.fanOut(ctx, in, "")
	rounds := 1
	for _, o := range outcomes {
		acc = acc.Merge(o.Acc)
	}

	if !allFailed(outcomes) && c.needRefinement(outcomes, len(in.ModelPool)) && rounds <= c.maxRefinements {
		c.log.Info("consensus.refine",
			"agent_id", in.AgentID, "parsed", countParsed(outcomes), "pool", len(in.ModelPool))
		refined := c.fanOut(ctx, in, refinementPrompt)
		rounds++
		for _, o := range refined {
			acc = acc.Merge(o.Acc)
		}
		outcomes = mergeRounds(outcomes, refined)
	}

	c.broadcastSent(in.AgentID, outcomes)

	aces := collectACE(outcomes)

	if allFailed(outcomes) {
		return &Decision{Accumulator: acc, RoundCount: rounds, ACEUpdates: aces}, ErrAllModelsFailed
	}

	winner, strictMajority, found := tally(outcomes)
	if !found {
		return &Decision{Accumulator: acc, RoundCount: rounds, ACEUpdates: aces}, ErrNoDecision
	}

	decisionType := "forced_decision"
	if strictMajority {
		decisionType = "consensus"
	}

	action := *winner
	if action.Wait.True() && selfContainedActions[action.Action] {
		c.log.Info("consensus.wait_autocorrect",
			"agent_id", in.AgentID, "action", action.Action)
		action.Wait = Wait{Kind: WaitBool, Bool: false}
	}

	c.log.Info("consensus.decision",
		"agent_id", in.AgentID,
		"type", decisionType,
		"action", action.Action,
		"rounds", rounds,
		"cost_usd", acc.TotalUSD())

	return &Decision{
		Type:        decisionType,
		Action:      action,
		Accumulator: acc,
		RoundCount:  rounds,
		ACEUpdates:  aces,
	}, nil
}

// fanOut queries every model in the pool concurrently, preserving pool order
// in the result slice.
func (c *Coordinator) fanOut(ctx context.Context, in Input, refinement string) []modelOutcome {
	outcomes := make([]modelOutcome, len(in.ModelPool))
	var wg sync.WaitGroup
	for i, modelID := range in.ModelPool {
		wg.Add(1)
		go func(i int, modelID string) {
			defer wg.Done()
			outcomes[i] = c.query.run(ctx, in, modelID, refinement)
		}(i, modelID)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.Err != nil {
			c.log.Warn("consensus.model_failed",
				"agent_id", in.AgentID, "model_id", o.ModelID, "error", o.Err)
		}
	}
	return outcomes
}

// broadcastSent publishes the exact per-model message lists (post-injection)
// on the agent's logs topic before the decision is acted on.
func (c *Coordinator) broadcastSent(agentID string, outcomes []modelOutcome) {
	if c.bus == nil {
		return
	}
	sent := make([]protocol.SentModelMessages, 0, len(outcomes))
	for _, o := range outcomes {
		sent = append(sent, protocol.SentModelMessages{ModelID: o.ModelID, Messages: o.Messages})
	}
	c.bus.Publish(protocol.TopicAgentLogs(agentID), protocol.EventLogEntry,
		protocol.LogEntryPayload{Metadata: protocol.LogEntryMetadata{SentMessages: sent}})
}

// needRefinement reports whether at most a minority of the pool parsed.
func (c *Coordinator) needRefinement(outcomes []modelOutcome, poolSize int) bool {
	return countParsed(outcomes)*2 <= poolSize
}

func countParsed(outcomes []modelOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Response != nil {
			n++
		}
	}
	return n
}

// allFailed reports whether no model produced any response text at all. A
// model that responded but failed to parse does not count as failed here;
// that case is ErrNoDecision, not ErrAllModelsFailed.
func allFailed(outcomes []modelOutcome) bool {
	for _, o := range outcomes {
		if o.Raw != "" || o.Err == nil {
			return false
		}
	}
	return true
}

// mergeRounds overlays second-round outcomes on the first round, keeping a
// first-round result only when the refinement did strictly worse for that
// model. ACE updates from either round survive.
func mergeRounds(first, second []modelOutcome) []modelOutcome {
	out := make([]modelOutcome, len(second))
	copy(out, second)
	for i := range out {
		if out[i].ACE == nil && i < len(first) {
			out[i].ACE = first[i].ACE
		}
		if out[i].Response == nil && i < len(first) && first[i].Response != nil {
			out[i].Response = first[i].Response
			out[i].Raw = first[i].Raw
			out[i].Err = first[i].Err
			out[i].Messages = first[i].Messages
		}
	}
	return out
}

func collectACE(outcomes []modelOutcome) map[string]ACEUpdate {
	var aces map[string]ACEUpdate
	for _, o := range outcomes {
		if o.ACE == nil {
			continue
		}
		if aces == nil {
			aces = map[string]ACEUpdate{}
		}
		aces[o.ModelID] = *o.ACE
	}
	return aces
}
