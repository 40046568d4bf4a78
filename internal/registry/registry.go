// Package registry is the lazy capability registry: it knows every
// capability by name and cheap metadata, but instantiates an implementation
// only on first load. Capability sets can be large while the working set is
// small, so resident memory follows use, not the catalog.
package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/cortexhub/cortex-toolrunner/internal/metrics"
)

// Capability is a loaded, invocable tool implementation.
type Capability interface {
	Invoke(ctx context.Context, payload map[string]any) (any, error)
}

// InputValidator is optionally implemented by capabilities with their own
// input contract, checked at execution time after admission has passed.
type InputValidator interface {
	ValidateInput(payload map[string]any) error
}

// Factory builds a capability instance. Registered at startup; called at
// most once per name while the instance stays cached.
type Factory func() (Capability, error)

// Descriptor is the cheap metadata discovery returns. It never implies the
// implementation is loaded.
type Descriptor struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Stats reports registry occupancy for observability.
type Stats struct {
	Discovered      int     `json:"discovered"`
	Loaded          int     `json:"loaded"`
	EfficiencyRatio float64 `json:"efficiency_ratio"`
}

type entry struct {
	desc    Descriptor
	factory Factory
}

// Registry holds the registration table and the instance cache. Exactly one
// instance exists per name at a time; only the registry creates or removes
// instances.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	order     []string
	instances map[string]Capability
	metrics   *metrics.Metrics
}

func New(m *metrics.Metrics) *Registry {
	return &Registry{
		entries:   make(map[string]*entry),
		instances: make(map[string]Capability),
		metrics:   m,
	}
}

// Register adds a capability factory under a name. The category is inferred
// from the "category.name" convention. Re-registering a name replaces its
// factory but not a cached instance.
func (r *Registry) Register(name, description string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = &entry{
		desc: Descriptor{
			Name:        name,
			Category:    categoryOf(name),
			Description: description,
		},
		factory: factory,
	}
}

func categoryOf(name string) string {
	if cat, _, found := strings.Cut(name, "."); found {
		return cat
	}
	return "general"
}

// Known reports whether a name is registered, without loading anything.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Discover lists every registered descriptor in registration order. No
// implementation is instantiated.
func (r *Registry) Discover() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].desc)
	}
	return out
}

// Load returns the instance for name, creating and caching it on first use.
// Unknown names and factory failures return nil without poisoning the
// cache; the next Load retries the factory.
func (r *Registry) Load(name string) Capability {
	r.mu.RLock()
	inst, cached := r.instances[name]
	r.mu.RUnlock()
	if cached {
		return inst
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another loader may have won the race while we upgraded the lock.
	if inst, cached := r.instances[name]; cached {
		return inst
	}
	e, ok := r.entries[name]
	if !ok {
		return nil
	}
	inst, err := e.factory()
	if err != nil || inst == nil {
		return nil
	}
	r.instances[name] = inst
	r.metrics.CapabilitiesLoaded(float64(len(r.instances)))
	return inst
}

// Unload drops a cached instance, reporting whether one existed.
func (r *Registry) Unload(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.instances[name]
	delete(r.instances, name)
	r.metrics.CapabilitiesLoaded(float64(len(r.instances)))
	return ok
}

// LoadedCount returns how many instances are currently cached.
func (r *Registry) LoadedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// GetStats reports discovered/loaded counts and the memory-efficiency
// ratio (discovered − loaded) / discovered.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Discovered: len(r.entries), Loaded: len(r.instances)}
	if s.Discovered > 0 {
		s.EfficiencyRatio = float64(s.Discovered-s.Loaded) / float64(s.Discovered)
	}
	return s
}
