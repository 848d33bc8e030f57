package feature

import (
	"fmt"
	"sync"
)

// Registry binds a payload discriminant (an application-chosen string,
// e.g. a channel id or a payload "type" field) to the Extractor that knows
// how to process it. Grounded on apoc/registry.FunctionRegistry's
// Register/Call shape, generalized from function names to payload
// discriminants and from reflect-based dynamic dispatch to a typed
// interface, since extractors are a fixed capability set rather than
// arbitrary functions.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register binds discriminant to ext. Re-registering the same
// discriminant is an error; extractor bindings are immutable after
// startup (spec.md §6 "Embedder API").
func (r *Registry) Register(discriminant string, ext Extractor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.extractors[discriminant]; exists {
		return fmt.Errorf("feature: extractor %q already registered", discriminant)
	}
	r.extractors[discriminant] = ext
	return nil
}

// Get returns the extractor bound to discriminant, if any.
func (r *Registry) Get(discriminant string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext, ok := r.extractors[discriminant]
	return ext, ok
}

// Discriminants returns every registered discriminant.
func (r *Registry) Discriminants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.extractors))
	for name := range r.extractors {
		names = append(names, name)
	}
	return names
}
