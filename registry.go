package flow

import "fmt"

// Registry maps action ids to implementations. It is populated during
// process startup and frozen before the first execution runs, so the
// read path needs no locking.
type Registry struct {
	actions map[string]Action
	frozen  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds an action under an id. Registrations only occur during
// initialization: a duplicate id or a frozen registry is an error.
func (r *Registry) Register(id string, a Action) error {
	if r.frozen {
		return fmt.Errorf("flow: register %q: registry is frozen", id)
	}
	if _, exists := r.actions[id]; exists {
		return fmt.Errorf("flow: register %q: %w", id, ErrActionExists)
	}
	r.actions[id] = a
	return nil
}

// Freeze marks the end of initialization. Further Register calls fail.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Resolve looks up an action by id.
func (r *Registry) Resolve(id string) (Action, bool) {
	a, ok := r.actions[id]
	return a, ok
}

// IDs returns every registered action id.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.actions))
	for id := range r.actions {
		ids = append(ids, id)
	}
	return ids
}
