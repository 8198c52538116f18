package editor

import (
	"sort"
	"sync"

	apperrors "collabtext/internal/platform/errors"
)

// Registry maps adapter names to adapters. Hosts build one and pass it to
// whatever mounts editors.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds a under name. Names are unique.
func (r *Registry) Register(name string, a Adapter) error {
	if name == "" || a == nil {
		return apperrors.New(apperrors.CodeContractViolation, "register adapter: name and adapter are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[name]; ok {
		return apperrors.Newf(apperrors.CodeContractViolation, "register adapter: %q already registered", name)
	}
	r.adapters[name] = a
	return nil
}

// Lookup returns the adapter registered under name.
func (r *Registry) Lookup(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeContractViolation, "unknown adapter %q", name)
	}
	return a, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltins registers a TextAdapter for every engine and mode.
func RegisterBuiltins(r *Registry) error {
	for _, e := range Engines {
		for _, m := range Modes {
			a := TextAdapter{Engine: e, Mode: m}
			if err := r.Register(a.Name(), a); err != nil {
				return err
			}
		}
	}
	return nil
}
