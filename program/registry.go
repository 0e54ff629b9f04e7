package program

import (
	"fmt"
	"sync"

	"github.com/skeinlabs/skein"
)

// Registry maps function names to versioned compiled bodies. Multiple
// versions of the same name can coexist; fresh starts use the latest
// version while resumed checkpoints look up the exact version they were
// captured against. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	versions map[string][]*Function
}

// NewRegistry creates an empty function registry.
func NewRegistry() *Registry {
	return &Registry{versions: make(map[string][]*Function)}
}

// Register validates and registers a compiled function. A Version of 0
// is treated as version 1. Registering the same (name, version) twice
// replaces the earlier body.
func (r *Registry) Register(fn *Function) error {
	if fn.Version <= 0 {
		fn.Version = 1
	}

	if err := fn.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.versions[fn.Name]
	for i, v := range existing {
		if v.Version == fn.Version {
			existing[i] = fn

			return nil
		}
	}

	r.versions[fn.Name] = append(existing, fn)

	return nil
}

// MustRegister is Register panicking on error. Use for static program
// tables assembled at init.
func (r *Registry) MustRegister(fn *Function) {
	if err := r.Register(fn); err != nil {
		panic(fmt.Sprintf("program: register %q: %v", fn.Name, err))
	}
}

// Lookup returns the body for a specific (name, version). A version of
// 0 or below resolves to the latest registered version.
func (r *Registry) Lookup(name string, version int) (*Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.versions[name]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", skein.ErrFunctionNotFound, name)
	}

	if version <= 0 {
		best := versions[0]
		for _, v := range versions[1:] {
			if v.Version > best.Version {
				best = v
			}
		}

		return best, nil
	}

	for _, v := range versions {
		if v.Version == version {
			return v, nil
		}
	}

	return nil, fmt.Errorf("%w: %s v%d", skein.ErrFunctionNotFound, name, version)
}

// LatestVersion returns the highest registered version for name, or 0
// when the name is unknown.
func (r *Registry) LatestVersion(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := 0
	for _, v := range r.versions[name] {
		if v.Version > best {
			best = v.Version
		}
	}

	return best
}

// Names returns all registered function names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}

	return names
}
