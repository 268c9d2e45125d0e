package marketplace

import (
	"errors"
	"fmt"
)

// ErrNoConnection means no adapter is wired for the requested marketplace.
// Jobs hitting it fail immediately without consuming retries.
var ErrNoConnection = errors.New("no active marketplace connection")

// Registry is the constructor-injected adapter set, resolved once at
// startup. It holds no global state so tests can build their own.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters map[string]Adapter) *Registry {
	if adapters == nil {
		adapters = make(map[string]Adapter)
	}
	return &Registry{adapters: adapters}
}

// Resolve returns the adapter for a marketplace.
func (r *Registry) Resolve(marketplace string) (Adapter, error) {
	a, ok := r.adapters[marketplace]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConnection, marketplace)
	}
	return a, nil
}

// Marketplaces lists the wired marketplace names.
func (r *Registry) Marketplaces() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	return out
}
