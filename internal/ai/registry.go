package ai

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps provider names to gateways. The empty name resolves to the
// fallback provider.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	fallback string
}

func NewRegistry(fallback string) *Registry {
	return &Registry{
		gateways: make(map[string]Gateway),
		fallback: normalizeName(fallback),
	}
}

func (r *Registry) Register(name string, g Gateway) {
	name = normalizeName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[name] = g
}

func (r *Registry) Get(name string) (Gateway, error) {
	name = normalizeName(name)
	if name == "" {
		name = r.fallback
	}
	r.mu.RLock()
	g, ok := r.gateways[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return g, nil
}

// Names lists registered providers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.gateways))
	for n := range r.gateways {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Fallback returns the provider used for the empty name.
func (r *Registry) Fallback() string { return r.fallback }

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
