// Package metadata lets producer/consumer pairs stash and retrieve
// namespaced values on an item without the engine itself needing to
// know what those values mean. A request-id propagator and a
// tenant-id propagator can both run without either knowing the other
// exists.
package metadata

import (
	"fmt"
	"sync"

	"github.com/deferrable-run/deferrable/pkg/item"
)

// ProducerConsumer produces a value to stash on an item at push time
// and consumes it back out of the item at pop time, under its own
// namespace.
type ProducerConsumer interface {
	// Namespace identifies this propagator's slot in item.Metadata. It
	// must be unique across every registered ProducerConsumer.
	Namespace() string

	// Produce returns the value to stash, or ok=false to stash nothing
	// for this item.
	Produce() (value string, ok bool)

	// Consume receives the stashed value (empty if none was produced)
	// back out at pop time, before the item's callable runs.
	Consume(value string, found bool)
}

// Registry applies and consumes every registered ProducerConsumer, in
// registration order, so that a propagator reading another's output
// can depend on that one having registered first.
type Registry struct {
	mu          sync.RWMutex
	propagators []ProducerConsumer
	namespaces  map[string]bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{namespaces: make(map[string]bool)}
}

// Register adds pc to the registry. It returns an error if pc's
// namespace is already taken.
func (r *Registry) Register(pc ProducerConsumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns := pc.Namespace()
	if r.namespaces[ns] {
		return fmt.Errorf("metadata: namespace %q already registered", ns)
	}
	r.namespaces[ns] = true
	r.propagators = append(r.propagators, pc)
	return nil
}

// Apply runs every registered propagator's Produce and stashes the
// result on it.Metadata under the propagator's namespace.
func (r *Registry) Apply(it *item.Item) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pc := range r.propagators {
		value, ok := pc.Produce()
		if !ok {
			continue
		}
		if it.Metadata == nil {
			it.Metadata = make(map[string]string)
		}
		it.Metadata[pc.Namespace()] = value
	}
}

// Consume runs every registered propagator's Consume against it's
// stashed metadata.
func (r *Registry) Consume(it item.Item) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pc := range r.propagators {
		value, found := it.Metadata[pc.Namespace()]
		pc.Consume(value, found)
	}
}
