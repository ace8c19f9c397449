package provider

import (
	"errors"
	"fmt"

	"github.com/sitelens/insights-middleware/pkg/integration"
)

// ErrUnknownProvider means no adapter is registered for the provider.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry holds the configured adapters keyed by provider name. Lookup is
// always by name; callers never type-switch on adapters.
type Registry struct {
	adapters map[integration.Provider]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[integration.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Register adds or replaces the adapter for its provider.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter for the provider.
func (r *Registry) Get(p integration.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}
	return a, nil
}

// Providers returns the registered provider names.
func (r *Registry) Providers() []integration.Provider {
	out := make([]integration.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
