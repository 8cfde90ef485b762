// Package selector implements sidelb's pluggable backend-selection
// policies: round-robin and least-connections. Mirrors strategy/picker.go's
// Picker interface and factory, adapted so the policy is a thin dispatcher
// over a *registry.Registry rather than an owner of the backend list itself
// — the registry is what holds the lock the selection algorithm must run
// under (see registry.SelectRoundRobin / SelectLeastConnections), so the
// actual flatten-and-pick logic lives there, not here.
package selector

import (
	"fmt"

	"sidelb/internal/registry"
)

// Picker selects the next backend from a Registry's active view.
type Picker interface {
	Next(reg *registry.Registry) (registry.Backend, error)
}

// New constructs the Picker named by mode.
func New(mode registry.SelectionMode) (Picker, error) {
	switch mode {
	case registry.RoundRobin:
		return RoundRobin{}, nil
	case registry.LeastConnections:
		return LeastConnections{}, nil
	default:
		return nil, fmt.Errorf("selector: unknown mode %v", mode)
	}
}

// RoundRobin flattens the active view and advances a single global cursor.
type RoundRobin struct{}

func (RoundRobin) Next(reg *registry.Registry) (registry.Backend, error) {
	return reg.SelectRoundRobin()
}

// LeastConnections picks the first active backend of the non-empty group
// with the smallest per-group connection count.
type LeastConnections struct{}

func (LeastConnections) Next(reg *registry.Registry) (registry.Backend, error) {
	return reg.SelectLeastConnections()
}
