// Package capability tracks what the connected providers can do. The
// registry decouples "what exists" from "which connections are open" so
// display and dispatch logic never touch raw connections.
package capability

import "sync"

// Descriptor describes one capability a provider exposes. Immutable once
// registered.
type Descriptor struct {
	Name        string
	Description string
	Provider    string
}

// Registry aggregates capability descriptors across providers. The flat
// name lookup resolves to the most recently registered descriptor for a
// name; the grouped view keeps every registration visible per provider.
type Registry struct {
	mu     sync.RWMutex
	flat   map[string]Descriptor
	groups map[string][]Descriptor
	order  []string // provider registration order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		flat:   make(map[string]Descriptor),
		groups: make(map[string][]Descriptor),
	}
}

// Register adds descriptors for a provider. A provider with zero
// descriptors is still recorded so it shows up in Providers(). A later
// registration of an already-known capability name overwrites the flat
// lookup; both registrations stay visible in the grouped view.
func (r *Registry) Register(provider string, descriptors []Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, known := r.groups[provider]; !known {
		r.order = append(r.order, provider)
		r.groups[provider] = nil
	}

	for _, d := range descriptors {
		d.Provider = provider
		r.flat[d.Name] = d
		r.groups[provider] = append(r.groups[provider], d)
	}
}

// Lookup resolves a capability name to its descriptor. When two providers
// expose the same name, the most recently registered one wins.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.flat[name]
	return d, ok
}

// ByProvider returns descriptors grouped by provider, insertion order
// preserved per group. The returned map is a copy.
func (r *Registry) ByProvider() map[string][]Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]Descriptor, len(r.groups))
	for provider, group := range r.groups {
		out[provider] = append([]Descriptor(nil), group...)
	}
	return out
}

// Providers returns provider names in registration order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// TotalCount sums the registered descriptors across all providers.
func (r *Registry) TotalCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, group := range r.groups {
		total += len(group)
	}
	return total
}
