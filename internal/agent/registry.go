package agent

import (
	"context"
	"fmt"
)

// Registry owns the ordered adapter collection. It is built once at
// startup and never mutated afterwards, so reads need no locking.
type Registry struct {
	adapters []Adapter
	byID     map[string]Adapter
}

// NewRegistry fails when two adapters share an id: duplicate identity is
// a configuration error, not a runtime condition to tolerate.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	byID := make(map[string]Adapter, len(adapters))
	for _, adapter := range adapters {
		if _, exists := byID[adapter.ID()]; exists {
			return nil, fmt.Errorf("duplicate agent id %q", adapter.ID())
		}
		byID[adapter.ID()] = adapter
	}
	return &Registry{adapters: adapters, byID: byID}, nil
}

// Adapters returns every adapter in insertion order.
func (r *Registry) Adapters() []Adapter {
	return r.adapters
}

// Enabled returns the adapters whose IsEnabled predicate currently
// holds, preserving insertion order.
func (r *Registry) Enabled() []Adapter {
	var enabled []Adapter
	for _, adapter := range r.adapters {
		if adapter.IsEnabled() {
			enabled = append(enabled, adapter)
		}
	}
	return enabled
}

// Get returns the adapter with the given id, or nil.
func (r *Registry) Get(agentID string) Adapter {
	return r.byID[agentID]
}

// DefaultAgentID is the id of the first enabled adapter in insertion
// order, or "" when none is enabled.
func (r *Registry) DefaultAgentID() string {
	for _, adapter := range r.adapters {
		if adapter.IsEnabled() {
			return adapter.ID()
		}
	}
	return ""
}

// FirstWithCapability returns the first adapter, in insertion order,
// that is enabled, connected, and flagged for the capability. Capability
// alone is not enough: a flagged but disconnected adapter is skipped.
func (r *Registry) FirstWithCapability(capability Capability) Adapter {
	for _, adapter := range r.adapters {
		if !adapter.IsEnabled() {
			continue
		}
		if !adapter.IsConnected() {
			continue
		}
		if adapter.Capabilities().Has(capability) {
			return adapter
		}
	}
	return nil
}

// StartAll starts adapters sequentially in insertion order, stopping at
// the first failure. No already-started adapter is unwound here; the
// caller decides whether to StopAll.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, adapter := range r.adapters {
		if err := adapter.Start(ctx); err != nil {
			return fmt.Errorf("start agent %q: %w", adapter.ID(), err)
		}
	}
	return nil
}

// StopAll stops adapters sequentially in reverse insertion order, so
// dependencies started earlier are unwound last. The first failure
// aborts the fan-out.
func (r *Registry) StopAll(ctx context.Context) error {
	for i := len(r.adapters) - 1; i >= 0; i-- {
		adapter := r.adapters[i]
		if err := adapter.Stop(ctx); err != nil {
			return fmt.Errorf("stop agent %q: %w", adapter.ID(), err)
		}
	}
	return nil
}
