// Package actions defines the action interface and the registry the router
// dispatches through. Each action declares a capability group; the router
// rejects dispatches whose group is missing from the agent's grant.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrActionNotAllowed means the agent lacks the action's capability group.
	ErrActionNotAllowed = errors.New("action not allowed")
	// ErrUnknownAction means no action is registered under the requested name.
	ErrUnknownAction = errors.New("unknown action")
)

// Action executes one unit of work for an agent. Execute never panics on bad
// params; it returns an error Result instead.
type Action interface {
	Name() string
	Description() string
	CapabilityGroup() string
	Parameters() map[string]any
	Execute(ctx context.Context, params map[string]any) *Result
}

// Registry maps action names to implementations.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds an action, replacing any previous registration of the name.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name()] = a
}

// Get returns the action registered under name.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return a, nil
}

// List returns the registered action names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	return names
}

// Allowed reports whether the action's capability group appears in groups.
// An empty grant allows everything; agents are restricted by configuration,
// not by default.
func Allowed(a Action, groups []string) bool {
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		if g == a.CapabilityGroup() {
			return true
		}
	}
	return false
}
