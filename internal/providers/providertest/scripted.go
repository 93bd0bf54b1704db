// Package providertest provides a scripted in-memory provider for tests.
package providertest

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/gohive/internal/providers"
)

// Call records one Chat invocation.
type Call struct {
	Model    string
	Messages []providers.Message
}

// Scripted returns queued responses per model, in order. When the queue for
// a model is empty it falls back to Default. It also records every call so
// tests can assert on the exact messages sent.
type Scripted struct {
	mu      sync.Mutex
	queues  map[string][]Response
	Default Response
	calls   []Call
}

// Response is one scripted reply: either Err or Content (+Usage).
type Response struct {
	Content string
	Usage   *providers.Usage
	Err     error
}

func NewScripted() *Scripted {
	return &Scripted{queues: make(map[string][]Response)}
}

// Enqueue adds a scripted response for a provider-side model name.
func (s *Scripted) Enqueue(model string, r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[model] = append(s.queues[model], r)
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.mu.Lock()
	msgs := make([]providers.Message, len(req.Messages))
	copy(msgs, req.Messages)
	s.calls = append(s.calls, Call{Model: req.Model, Messages: msgs})

	var r Response
	if q := s.queues[req.Model]; len(q) > 0 {
		r = q[0]
		s.queues[req.Model] = q[1:]
	} else {
		r = s.Default
	}
	s.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	usage := r.Usage
	if usage == nil {
		usage = &providers.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	}
	return &providers.ChatResponse{Content: r.Content, FinishReason: "stop", Usage: usage}, nil
}

// Calls returns a snapshot of recorded invocations.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsForModel filters recorded calls by provider-side model name.
func (s *Scripted) CallsForModel(model string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Model == model {
			out = append(out, c)
		}
	}
	return out
}

// NewRegistry builds a providers.Registry backed by this scripted provider,
// with one model spec per id (model name == id).
func NewRegistry(s *Scripted, modelIDs ...string) *providers.Registry {
	reg := providers.NewRegistry()
	reg.AddBackend(s)
	for _, id := range modelIDs {
		reg.AddModel(providers.ModelSpec{
			ID: id, Provider: "scripted", Model: id,
			ContextLimit: 200000, InputUSDPerMTok: 3, OutputUSDPerMTok: 15,
		})
	}
	return reg
}
