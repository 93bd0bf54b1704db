package registry

import (
	"errors"
	"sync"
)

// ErrDuplicateAgentID is returned when an agent id is already registered.
var ErrDuplicateAgentID = errors.New("duplicate agent id")

// Meta holds registration metadata alongside the handle.
type Meta struct {
	ParentHandle any    // opaque handle of the spawning agent, nil for roots
	TaskID       string
}

// Entry is one registered agent.
type Entry struct {
	AgentID string
	Handle  any // opaque agent handle; comparable (pointer identity)
	Meta    Meta
}

// Registry is the process-wide agent_id ↔ handle lookup. Handles are stored
// opaquely so the registry stays a leaf package; callers type-assert.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]Entry
	byHandle map[any]string
}

func New() *Registry {
	return &Registry{
		byID:     make(map[string]Entry),
		byHandle: make(map[any]string),
	}
}

// Register inserts atomically, rejecting duplicate agent ids.
func (r *Registry) Register(agentID string, handle any, meta Meta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[agentID]; exists {
		return ErrDuplicateAgentID
	}
	r.byID[agentID] = Entry{AgentID: agentID, Handle: handle, Meta: meta}
	r.byHandle[handle] = agentID
	return nil
}

// Lookup returns the entry for an agent id.
func (r *Registry) Lookup(agentID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[agentID]
	return e, ok
}

// IDFor is the reverse lookup: handle → agent id.
func (r *Registry) IDFor(handle any) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHandle[handle]
	return id, ok
}

// Unregister removes both directions. Unknown ids are a no-op.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[agentID]; ok {
		delete(r.byHandle, e.Handle)
		delete(r.byID, agentID)
	}
}

// List returns a snapshot of all entries.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e)
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
