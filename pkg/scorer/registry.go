package scorer

import (
	"fmt"
	"sync"
)

// Registry binds a channel id to the Scorer responsible for it. Grounded
// on apoc/registry.FunctionRegistry's Register/Get shape, generalized from
// function names to channel ids.
type Registry struct {
	mu      sync.RWMutex
	scorers map[string]Scorer
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{scorers: make(map[string]Scorer)}
}

// Register binds channelID to s. Re-registering the same channel is an
// error; channel bindings are immutable after startup of a worker
// (spec.md §6 "Embedder API").
func (r *Registry) Register(channelID string, s Scorer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scorers[channelID]; exists {
		return fmt.Errorf("scorer: channel %q already registered", channelID)
	}
	r.scorers[channelID] = s
	return nil
}

// Get returns the Scorer bound to channelID, if any.
func (r *Registry) Get(channelID string) (Scorer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.scorers[channelID]
	return s, ok
}

// Channels returns every registered channel id.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.scorers))
	for name := range r.scorers {
		names = append(names, name)
	}
	return names
}
