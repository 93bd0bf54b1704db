package providers

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// ModelSpec describes one model id in the pool: which provider serves it,
// pricing for the cost accumulator, and the context window used by the
// consensus <ctx> injector.
type ModelSpec struct {
	ID              string  `json:"id"`
	Provider        string  `json:"provider"` // "anthropic", "openai", ...
	Model           string  `json:"model"`    // provider-side model name
	ContextLimit    int     `json:"context_limit"`
	InputUSDPerMTok float64 `json:"input_usd_per_mtok"`
	OutputUSDPerMTok float64 `json:"output_usd_per_mtok"`
	RPM             int     `json:"rpm,omitempty"` // per-model rate limit, 0 = unlimited
}

// Registry resolves model ids to providers and applies per-model rate limits.
type Registry struct {
	mu       sync.RWMutex
	specs    map[string]ModelSpec
	backends map[string]Provider // provider name → client
	limiters map[string]*rate.Limiter
}

func NewRegistry() *Registry {
	return &Registry{
		specs:    make(map[string]ModelSpec),
		backends: make(map[string]Provider),
		limiters: make(map[string]*rate.Limiter),
	}
}

// AddBackend registers a provider client under its name.
func (r *Registry) AddBackend(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[p.Name()] = p
}

// AddModel registers a model spec. An RPM > 0 installs a token-bucket
// limiter with a burst of 1 (requests are large; no benefit to bursting).
func (r *Registry) AddModel(spec ModelSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.ID] = spec
	if spec.RPM > 0 {
		r.limiters[spec.ID] = rate.NewLimiter(rate.Limit(float64(spec.RPM)/60.0), 1)
	}
}

// Spec returns the spec for a model id.
func (r *Registry) Spec(modelID string) (ModelSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[modelID]
	return s, ok
}

// ContextLimit returns the model's context window, 0 when unknown.
func (r *Registry) ContextLimit(modelID string) int {
	s, _ := r.Spec(modelID)
	return s.ContextLimit
}

// Query resolves the model id, waits for its rate limiter, and issues the
// chat request against the owning provider.
func (r *Registry) Query(ctx context.Context, modelID string, req ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	spec, ok := r.specs[modelID]
	var backend Provider
	if ok {
		backend = r.backends[spec.Provider]
	}
	limiter := r.limiters[modelID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown model id %q", modelID)
	}
	if backend == nil {
		return nil, fmt.Errorf("no backend registered for provider %q (model %q)", spec.Provider, modelID)
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req.Model = spec.Model
	return backend.Chat(ctx, req)
}

// CostUSD converts token usage into dollars using the model's pricing.
func (r *Registry) CostUSD(modelID string, usage *Usage) float64 {
	if usage == nil {
		return 0
	}
	spec, ok := r.Spec(modelID)
	if !ok {
		return 0
	}
	in := float64(usage.PromptTokens) / 1_000_000 * spec.InputUSDPerMTok
	out := float64(usage.CompletionTokens) / 1_000_000 * spec.OutputUSDPerMTok
	return in + out
}
