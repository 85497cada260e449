// Package capability holds the diagnostic lookups agents can ground their
// reasoning on. Capabilities are registered once at startup and shared
// read-only across concurrent runs.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when a capability name is not registered.
// Callers treat it as "capability unavailable", never as fatal.
var ErrNotFound = errors.New("capability not found")

// Capability is a stateless query/response function.
type Capability interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, query string) (string, error)
}

// Func adapts a plain function into a Capability.
type Func struct {
	name        string
	description string
	fn          func(ctx context.Context, query string) (string, error)
}

func NewFunc(name, description string, fn func(ctx context.Context, query string) (string, error)) *Func {
	return &Func{name: name, description: description, fn: fn}
}

func (f *Func) Name() string        { return f.name }
func (f *Func) Description() string { return f.description }

func (f *Func) Invoke(ctx context.Context, query string) (string, error) {
	return f.fn(ctx, query)
}

type Registry struct {
	caps map[string]Capability
	mu   sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds c to the registry, replacing any capability with the same name.
func (r *Registry) Register(c Capability) error {
	if c == nil || c.Name() == "" {
		return fmt.Errorf("register capability: name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Name()] = c
	return nil
}

func (r *Registry) Get(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c, nil
}

// Pick returns the registered capabilities among names, in the order given.
// Unregistered names are dropped silently.
func (r *Registry) Pick(names ...string) []Capability {
	out := make([]Capability, 0, len(names))
	for _, name := range names {
		c, err := r.Get(name)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Names returns the registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns name -> description for every registered capability.
func (r *Registry) Describe() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.caps))
	for name, c := range r.caps {
		out[name] = c.Description()
	}
	return out
}
