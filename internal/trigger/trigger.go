package trigger

import (
	"errors"
	"fmt"
	"sync"

	"mysql-triggers/internal/models"
)

// ErrDuplicateName is returned when adding a trigger whose name is already registered.
var ErrDuplicateName = errors.New("trigger name already registered")

// ErrNotFound is returned when removing a trigger that is not registered.
var ErrNotFound = errors.New("trigger not found")

// Handler is invoked with every row event a trigger matches. Handlers run
// concurrently with each other for the same event; a non-nil error is reported
// through the engine's notification surface and does not affect other handlers.
type Handler func(event *models.RowEvent) error

// Trigger binds a wildcard expression and statement filter to a handler.
type Trigger struct {
	Name       string
	Expression string
	Statement  models.StatementType
	Handler    Handler

	expr *Expression
}

// Registry holds the live set of triggers in registration order. It is safe
// for concurrent use: triggers may be added or removed while dispatch is in
// flight, taking effect from the next event onward.
type Registry struct {
	mu       sync.RWMutex
	triggers []*Trigger
	names    map[string]struct{}
}

// NewRegistry creates an empty trigger registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Add validates and registers a trigger. The expression is compiled once here;
// a missing statement filter defaults to ALL.
func (r *Registry) Add(t Trigger) error {
	if t.Name == "" {
		return fmt.Errorf("trigger name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("trigger %q: handler is required", t.Name)
	}
	if t.Statement == "" {
		t.Statement = models.StatementAll
	}
	if !t.Statement.Valid() {
		return fmt.Errorf("trigger %q: invalid statement type %q", t.Name, t.Statement)
	}

	expr, err := CompileExpression(t.Expression)
	if err != nil {
		return fmt.Errorf("trigger %q: %w", t.Name, err)
	}
	t.expr = expr

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.names[t.Name]; ok {
		return fmt.Errorf("trigger %q: %w", t.Name, ErrDuplicateName)
	}
	r.names[t.Name] = struct{}{}
	r.triggers = append(r.triggers, &t)
	return nil
}

// Remove unregisters the trigger with the given name. Removal is not
// idempotent: a second call for the same name fails with ErrNotFound.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.names[name]; !ok {
		return fmt.Errorf("trigger %q: %w", name, ErrNotFound)
	}
	delete(r.names, name)
	for i, t := range r.triggers {
		if t.Name == name {
			r.triggers = append(r.triggers[:i:i], r.triggers[i+1:]...)
			break
		}
	}
	return nil
}

// Snapshot returns a copy of the registered triggers in registration order.
// The returned slice is safe to iterate while the registry is being mutated.
func (r *Registry) Snapshot() []*Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Trigger, len(r.triggers))
	copy(out, r.triggers)
	return out
}

// Len returns the number of registered triggers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.triggers)
}
