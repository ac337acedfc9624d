// Package registry owns the set of configured provider adapters and the
// circuit breaker guarding each one. It is the only place that hands out a
// usable provider handle, gated on breaker admission.
package registry

import (
	"sync"

	"github.com/coreforge/llm-gateway/internal/breaker"
	"github.com/coreforge/llm-gateway/internal/providers"
)

// Registry owns adapters + breakers. Adapter handles are immutable after
// construction; breakers are the only mutable state and are guarded here.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]providers.Provider
	breakers map[string]*breaker.Breaker
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		adapters: make(map[string]providers.Provider),
		breakers: make(map[string]*breaker.Breaker),
	}
}

// Register adds a provider adapter with its own breaker configuration. Not
// safe to call concurrently with GetProvider/ReportResult for the same name
// (registration happens once at startup).
func (r *Registry) Register(name string, adapter providers.Provider, cfg breaker.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = adapter
	r.breakers[name] = breaker.New(cfg)
}

// GetProvider returns the adapter for name if its breaker currently admits
// calls; otherwise it returns (nil, false), logged by the caller.
func (r *Registry) GetProvider(name string) (providers.Provider, bool) {
	r.mu.RLock()
	adapter, ok := r.adapters[name]
	b := r.breakers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if !b.Allow() {
		return nil, false
	}
	return adapter, true
}

// ReportResult forwards a call outcome to the provider's breaker.
func (r *Registry) ReportResult(name string, success bool) {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if success {
		b.ReportSuccess()
	} else {
		b.ReportFailure()
	}
}

// BreakerState exposes the current breaker state for a provider, used by
// the health checker and metrics exporter.
func (r *Registry) BreakerState(name string) (breaker.State, bool) {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return breaker.Closed, false
	}
	return b.State(), true
}

// ListProviders returns the names of all registered providers.
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
