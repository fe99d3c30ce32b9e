package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jdziat/jobflow/pkg/core"
	"github.com/jdziat/jobflow/pkg/security"
)

// Scope is the per-job context a handler is built with.
type Scope struct {
	// ID is unique per processing call.
	ID     string
	Job    *core.Job
	Logger *slog.Logger
}

// Handler runs one job.
type Handler interface {
	Execute(ctx context.Context, payload []byte) (core.Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload []byte) (core.Result, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, payload []byte) (core.Result, error) {
	return f(ctx, payload)
}

// Factory builds a Handler for a scope. It is called once per job.
type Factory func(scope *Scope) Handler

// Binding pairs a kind with its factory.
type Binding struct {
	Kind    string
	Factory Factory
}

// Bind creates a Binding.
func Bind(kind string, factory Factory) Binding {
	return Binding{Kind: kind, Factory: factory}
}

// Registry is an immutable kind -> factory table. It is safe for concurrent use.
type Registry struct {
	factories map[string]Factory
}

// New builds a Registry. Invalid kinds, nil factories and duplicate kinds are
// rejected.
func New(bindings ...Binding) (*Registry, error) {
	r := &Registry{factories: make(map[string]Factory, len(bindings))}
	for _, b := range bindings {
		if err := security.ValidateKind(b.Kind); err != nil {
			return nil, fmt.Errorf("registry: kind %q: %w", b.Kind, err)
		}
		if b.Factory == nil {
			return nil, fmt.Errorf("registry: kind %q has no factory", b.Kind)
		}
		if _, dup := r.factories[b.Kind]; dup {
			return nil, fmt.Errorf("registry: kind %q bound twice", b.Kind)
		}
		r.factories[b.Kind] = b.Factory
	}
	return r, nil
}

// MustNew is like New but panics on error.
func MustNew(bindings ...Binding) *Registry {
	r, err := New(bindings...)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve builds the handler for kind within scope. It reports false when the
// kind is not bound or the factory produced no handler.
func (r *Registry) Resolve(kind string, scope *Scope) (Handler, bool) {
	factory, ok := r.factories[kind]
	if !ok {
		return nil, false
	}
	h := factory(scope)
	if h == nil {
		return nil, false
	}
	return h, true
}

// Has reports whether kind is bound.
func (r *Registry) Has(kind string) bool {
	_, ok := r.factories[kind]
	return ok
}

// Kinds returns the bound kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
