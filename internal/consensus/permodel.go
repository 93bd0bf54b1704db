package consensus

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nextlevelbuilder/gohive/internal/cost"
	"github.com/nextlevelbuilder/gohive/internal/history"
	"github.com/nextlevelbuilder/gohive/internal/providers"
)

// condenseKeepEntries is how many newest history entries survive a
// condensation; everything older is folded into lessons and state.
const condenseKeepEntries = 20

// modelOutcome is one model's result within a consensus round.
type modelOutcome struct {
	ModelID  string
	Messages []providers.Message // exact list sent, post-injection
	Raw      string
	Response *ActionResponse // nil when the query or parse failed
	Err      error
	Acc      cost.Accumulator
	ACE      *ACEUpdate // non-nil when condensation ran
}

// perModelQuery runs the full per-model pipeline: assemble, query, and on
// context overflow condense via the reflector and retry exactly once. The
// retry reassembles through the same code path as the primary attempt.
type perModelQuery struct {
	models    *providers.Registry
	reflector *Reflector
	log       *slog.Logger
}

func (q *perModelQuery) run(ctx context.Context, in Input, modelID, refinement string) modelOutcome {
	out := modelOutcome{ModelID: modelID}

	lessons := in.Lessons[modelID]
	state := in.ModelStates[modelID]

	msgs := q.assemble(in, modelID, lessons, state, refinement)
	out.Messages = msgs

	resp, err := q.models.Query(ctx, modelID, providers.ChatRequest{
		Messages:    msgs,
		MaxTokens:   4096,
		Temperature: 0.2,
	})
	if err == nil {
		out.Acc = out.Acc.AddLLM(in.AgentID, in.TaskID, modelID,
			q.models.CostUSD(modelID, resp.Usage), usageMeta(resp.Usage))
		out.Raw = resp.Content
		out.Response, out.Err = parseActionResponse(resp.Content)
		return out
	}
	if !errors.Is(err, providers.ErrContextLengthExceeded) {
		out.Err = err
		return out
	}

	q.log.Info("consensus.condense", "agent_id", in.AgentID, "model_id", modelID)

	ace, cerr := q.condense(ctx, in, modelID, &out)
	if cerr != nil {
		q.log.Warn("consensus.condense_failed",
			"agent_id", in.AgentID, "model_id", modelID, "error", cerr)
		out.Err = err
		return out
	}
	out.ACE = ace
	lessons = append(lessons, ace.Lessons...)
	if ace.State != nil {
		state = ace.State
	}
	// The retry assembles against the condensed history. Only this
	// goroutine's copy of the input changes; the shared set stays
	// untouched until the agent applies the ACE update after the cycle.
	in.Histories = history.Set{modelID: ace.Condensed}

	msgs = q.assemble(in, modelID, lessons, state, refinement)
	out.Messages = msgs

	resp, err = q.models.Query(ctx, modelID, providers.ChatRequest{
		Messages:    msgs,
		MaxTokens:   4096,
		Temperature: 0.2,
	})
	if err != nil {
		out.Err = err
		return out
	}
	out.Acc = out.Acc.AddLLM(in.AgentID, in.TaskID, modelID,
		q.models.CostUSD(modelID, resp.Usage), usageMeta(resp.Usage))
	out.Raw = resp.Content
	out.Response, out.Err = parseActionResponse(resp.Content)
	return out
}

// assemble builds the final message list, appending the refinement prompt
// (second-round only) to the last user message before reassembly finishes.
func (q *perModelQuery) assemble(in Input, modelID string, lessons []Lesson, state *ModelState, refinement string) []providers.Message {
	msgs := assembleMessages(in, modelID, lessons, state, q.models.ContextLimit(modelID))
	if refinement != "" {
		if idx := lastUserIndex(msgs); idx >= 0 {
			msgs[idx].Content += "\n\n" + refinement
		}
	}
	return msgs
}

// condense runs the reflector over this model's full history and returns the
// ACE update carrying the lessons, the summary, and the condensed history
// (newest entries only). Sibling goroutines read the shared set during the
// fan-out, so the update never writes it; the agent applies Condensed once
// the cycle is over.
func (q *perModelQuery) condense(ctx context.Context, in Input, modelID string, out *modelOutcome) (*ACEUpdate, error) {
	entries := in.Histories[modelID]
	chron := history.Chronological(entries)

	refl, usage, err := q.reflector.Reflect(ctx, modelID, toReflectorMessages(chron))
	if usage != nil {
		out.Acc = out.Acc.AddLLM(in.AgentID, in.TaskID, modelID,
			q.models.CostUSD(modelID, usage), usageMeta(usage))
	}
	if err != nil {
		return nil, err
	}

	// Entries are newest-first; keep the newest slice.
	keep := entries
	if len(keep) > condenseKeepEntries {
		keep = keep[:condenseKeepEntries]
	}

	ace := &ACEUpdate{Lessons: refl.Lessons, Condensed: append([]history.Entry(nil), keep...)}
	if len(refl.State) > 0 {
		s := refl.State[len(refl.State)-1]
		ace.State = &s
	}
	return ace, nil
}

func usageMeta(u *providers.Usage) map[string]any {
	if u == nil {
		return nil
	}
	return map[string]any{
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
		"total_tokens":      u.TotalTokens,
	}
}
