package probe

import (
	"sort"
	"sync"

	"github.com/huginnscan/huginn/internal/errors"
)

// Registry maps probe type identifiers to implementations. Safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{probes: make(map[string]Probe)}
}

// Register adds a probe. Registering a type twice is an error.
func (r *Registry) Register(p Probe) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.probes[p.Type()]; exists {
		return errors.ErrDuplicateProbe(p.Type())
	}
	r.probes[p.Type()] = p
	return nil
}

// Get looks up a probe by type identifier.
func (r *Registry) Get(probeType string) (Probe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.probes[probeType]
	if !ok {
		return nil, errors.ErrUnknownProbe(probeType)
	}
	return p, nil
}

// Types returns all registered type identifiers, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.probes))
	for t := range r.probes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DefaultRegistry returns a registry with every built-in probe.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range []Probe{
		NewPingProbe(),
		NewTCPConnectProbe(),
		NewTCPSYNProbe(),
		NewUDPProbe(),
	} {
		// Built-in types are unique, registration cannot fail.
		_ = r.Register(p)
	}
	return r
}
