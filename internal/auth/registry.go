package auth

import (
	"errors"
	"fmt"
	"sort"
)

// Registry holds the configured providers by name. It performs no auth logic
// itself.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry registers the given providers by name. A later provider with
// the same name replaces an earlier one.
func NewRegistry(list ...Provider) *Registry {
	m := make(map[string]Provider, len(list))
	for _, p := range list {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// ErrUnknownProvider is returned by Get for unregistered names.
var ErrUnknownProvider = errors.New("auth: unknown provider")

// Get returns the provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists the registered providers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
