package adapter

import (
	"fmt"
	"sort"
)

// Registry is the sealed set of adapters available to a daemon instance.
// Membership is fixed at construction; the runtime resolves adapters by name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters.
// Duplicate names are a programming error.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		if _, dup := m[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate adapter name: %s", a.Name())
		}
		m[a.Name()] = a
	}
	return &Registry{adapters: m}, nil
}

// Get resolves an adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
