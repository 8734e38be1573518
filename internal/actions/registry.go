package actions

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// Info is a summary of a registered action for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Registry is a thread-safe name → action lookup shared by the transport
// adapters (router, MCP server, scheduler).
type Registry struct {
	mu      sync.RWMutex
	actions map[string]action.Invoker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]action.Invoker),
	}
}

// Register adds an action to the registry. Returns error on duplicate name.
func (r *Registry) Register(inv action.Invoker) error {
	if inv == nil {
		return schema.NewError(schema.ErrCodeBadRequest, "action is nil")
	}
	name := inv.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeBadRequest, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
	}

	r.actions[name] = inv
	return nil
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (action.Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.actions[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", name)
	}
	return inv, nil
}

// List returns info for all registered actions, sorted by name.
func (r *Registry) List() []Info {
	invs := r.Invokers()
	infos := make([]Info, 0, len(invs))
	for _, inv := range invs {
		infos = append(infos, Info{Name: inv.Name(), Description: inv.Description()})
	}
	return infos
}

// Invokers returns every registered action, sorted by name.
func (r *Registry) Invokers() []action.Invoker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]action.Invoker, 0, len(r.actions))
	for _, inv := range r.actions {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})
	return out
}

// RegisterPrefixed bulk-registers actions under a namespace. Each action name
// becomes "prefix.originalName" (e.g. "billing.refund"). Registration stops at
// the first conflict; actions registered before it stay registered.
func (r *Registry) RegisterPrefixed(prefix string, invs []action.Invoker) (int, error) {
	if prefix == "" {
		return 0, schema.NewError(schema.ErrCodeBadRequest, "action prefix is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := 0
	for _, inv := range invs {
		prefixed := fmt.Sprintf("%s.%s", prefix, inv.Name())
		if _, exists := r.actions[prefixed]; exists {
			return registered, schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", prefixed)
		}
		r.actions[prefixed] = &prefixedInvoker{Invoker: inv, name: prefixed}
		registered++
	}
	return registered, nil
}

// Has checks if an action is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// prefixedInvoker exposes an action under a namespaced name.
type prefixedInvoker struct {
	action.Invoker
	name string
}

func (p *prefixedInvoker) Name() string { return p.name }
