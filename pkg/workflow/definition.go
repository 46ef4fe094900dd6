package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// Definition names a workflow type and builds fresh step instances for it.
// Resume relies on Build returning the same names in the same order every
// time; the engine checks them against the persisted step records.
type Definition struct {
	Type  string
	Build func() []Step
}

// StepNames returns the ordered step names of the definition.
func (d Definition) StepNames() []string {
	steps := d.Build()
	names := make([]string, len(steps))

	for i, step := range steps {
		names[i] = step.Name()
	}

	return names
}

// Registry maps workflow types to their definitions.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]Definition
}

// NewRegistry returns a registry holding defs.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{definitions: make(map[string]Definition)}
	for _, def := range defs {
		r.Register(def)
	}

	return r
}

// Register adds or replaces a definition.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.definitions[def.Type] = def
}

// Lookup returns the definition of workflowType.
func (r *Registry) Lookup(workflowType string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[workflowType]
	if !ok {
		return Definition{}, fmt.Errorf("%q: %w", workflowType, ErrUnknownWorkflowType)
	}

	return def, nil
}

// Types returns the registered workflow types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.definitions))
	for t := range r.definitions {
		types = append(types, t)
	}

	sort.Strings(types)

	return types
}
