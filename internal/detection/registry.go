package detection

import (
	"fmt"
	"sync"
)

// Registry manages the available detector backends. Backends are registered
// once at startup and shared read-only by all jobs.
type Registry struct {
	mu        sync.RWMutex
	detectors map[string]Detector
	order     []string
}

// NewRegistry creates an empty detector registry.
func NewRegistry() *Registry {
	return &Registry{detectors: make(map[string]Detector)}
}

// Register adds a detector to the registry.
func (r *Registry) Register(d Detector) error {
	if d == nil {
		return fmt.Errorf("detector cannot be nil")
	}
	name := d.Name()
	if name == "" {
		return fmt.Errorf("detector name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.detectors[name]; exists {
		return fmt.Errorf("detector %q already registered", name)
	}
	r.detectors[name] = d
	r.order = append(r.order, name)
	return nil
}

// Get returns a detector by name.
func (r *Registry) Get(name string) (Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	return d, ok
}

// ByNames returns the detectors matching names, in request order. Unknown
// names are skipped.
func (r *Registry) ByNames(names []string) []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Detector, 0, len(names))
	for _, name := range names {
		if d, ok := r.detectors[name]; ok {
			result = append(result, d)
		}
	}
	return result
}

// All returns every registered detector in registration order.
func (r *Registry) All() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Detector, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.detectors[name])
	}
	return result
}

// Names returns the registered detector names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Close releases all detector resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, d := range r.detectors {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close detector %q: %w", name, err)
		}
		delete(r.detectors, name)
	}
	r.order = nil
	return firstErr
}
