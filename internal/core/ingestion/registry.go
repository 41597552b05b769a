package ingestion

import (
	"fmt"
	"sync"
)

// Registry holds the available processors. Match walks them in registration
// order, so register more specific processors first.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Processor
	order  []Processor
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Processor)}
}

func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[p.Name()]; !exists {
		r.order = append(r.order, p)
	}
	r.byName[p.Name()] = p
}

func (r *Registry) Get(name string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProcessor, name)
	}
	return p, nil
}

// Match returns the first processor accepting the path, or
// ErrUnsupportedFileType.
func (r *Registry) Match(path string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.order {
		if p.Accepts(path) {
			return p, nil
		}
	}
	return nil, ErrUnsupportedFileType
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, p := range r.order {
		names = append(names, p.Name())
	}
	return names
}
