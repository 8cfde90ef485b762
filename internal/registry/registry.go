// Package registry is sidelb's backend registry: the concurrent data
// structure tracking configured vs. active backends grouped by label, their
// per-group connection counters, and the round-robin cursor. It is the sole
// shared mutable structure in the process — every other component either
// reads it under its lock for the duration of one small operation, or
// mutates it the same way. No component holds the lock across network I/O.
//
// Grounded on strategy/backend.go's atomic-per-backend style (fused here
// into one lock domain, per spec, rather than per-backend atomics) and
// admin/registry.go's "one mutex owns every map" shape.
package registry

import "sync"

// Registry holds the four co-indexed structures described in spec.md §3:
// configured, active, counts (all keyed by label) and a single global
// round-robin cursor.
type Registry struct {
	mu sync.Mutex

	configured map[string][]Backend
	active     map[string][]Backend
	counts     map[string]int
	cursor     uint64

	// order is the insertion order of labels, preserved so flatten-based
	// selection (round-robin) and iteration (least-connections,
	// increment/decrement) are deterministic rather than subject to Go's
	// randomized map iteration.
	order []string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		configured: make(map[string][]Backend),
		active:     make(map[string][]Backend),
		counts:     make(map[string]int),
	}
}

// StaticGroup is one (label, endpoints) entry for AddStatic. Passed as an
// ordered slice (rather than a map) so static backend insertion order —
// and therefore round-robin's first-pass visiting order — is deterministic
// and matches the order the operator listed them on the command line.
type StaticGroup struct {
	Label     string
	Endpoints []Endpoint
}

// AddStatic materializes each group's endpoints into Backends and replaces
// configured[label] and active[label] wholesale. An empty endpoint list
// removes the label from every map. Static groups are immutable afterward —
// nothing else in the registry ever calls AddStatic again for the same
// label.
func (r *Registry) AddStatic(groups []StaticGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range groups {
		backends := materialize(g.Endpoints)
		if len(backends) == 0 {
			r.removeLabelLocked(g.Label)
			continue
		}
		r.configured[g.Label] = backends
		r.active[g.Label] = append([]Backend(nil), backends...)
		if _, ok := r.counts[g.Label]; !ok {
			r.counts[g.Label] = 0
		}
		r.ensureOrderLocked(g.Label)
	}
}

// UpdateDynamic reconciles the one dynamic label against a freshly resolved
// endpoint set: configured[label] is replaced wholesale; active[label] is
// pruned to drop entries no longer in the new configured set (never grown —
// only the health checker promotes new entries into active); counts[label]
// is left untouched if the group survives, seeded to 0 if the group is new.
// An empty result deletes the label from every map.
func (r *Registry) UpdateDynamic(label string, endpoints []Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	backends := materialize(endpoints)
	if len(backends) == 0 {
		r.removeLabelLocked(label)
		return
	}

	r.configured[label] = backends
	r.ensureOrderLocked(label)

	if active, ok := r.active[label]; ok {
		keep := make(map[string]bool, len(backends))
		for _, b := range backends {
			keep[b.Addr] = true
		}
		retained := active[:0:0]
		for _, b := range active {
			if keep[b.Addr] {
				retained = append(retained, b)
			}
		}
		if len(retained) == 0 {
			delete(r.active, label)
		} else {
			r.active[label] = retained
		}
	}

	if _, ok := r.counts[label]; !ok {
		r.counts[label] = 0
	}
}

// ApplyHealth is the health checker's single point of mutation: it promotes
// b into active[label] if healthy and not already present, or removes it if
// unhealthy and present, deleting the label from active entirely if that
// empties it. Called once per probed backend, never across the probe I/O
// itself.
func (r *Registry) ApplyHealth(label string, b Backend, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group := r.active[label]
	idx := indexOfAddr(group, b.Addr)

	switch {
	case healthy && idx < 0:
		r.active[label] = append(group, b)
	case !healthy && idx >= 0:
		group = append(group[:idx], group[idx+1:]...)
		if len(group) == 0 {
			delete(r.active, label)
		} else {
			r.active[label] = group
		}
	}
}

// IncrementConn bumps the counter of the first configured group (in
// insertion order) containing addr.
func (r *Registry) IncrementConn(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if label, ok := r.groupOfLocked(addr); ok {
		r.counts[label]++
	}
}

// DecrementConn floors the counter of the first configured group (in
// insertion order) containing addr at 0.
func (r *Registry) DecrementConn(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if label, ok := r.groupOfLocked(addr); ok {
		if r.counts[label] > 0 {
			r.counts[label]--
		}
	}
}

// ConfiguredSnapshot is a deep copy of the configured view plus its
// insertion order, safe for the health checker to iterate without holding
// the registry lock across probe I/O.
type ConfiguredSnapshot struct {
	Order  []string
	Groups map[string][]Backend
}

// SnapshotConfigured returns a deep copy of the configured view.
func (r *Registry) SnapshotConfigured() ConfiguredSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups := make(map[string][]Backend, len(r.configured))
	for label, backends := range r.configured {
		groups[label] = append([]Backend(nil), backends...)
	}
	order := append([]string(nil), r.order...)
	return ConfiguredSnapshot{Order: order, Groups: groups}
}

// HasHealthyBackend reports whether any group's active list is non-empty —
// the predicate the control socket answers HEALTHY/UNHEALTHY from.
func (r *Registry) HasHealthyBackend() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, backends := range r.active {
		if len(backends) > 0 {
			return true
		}
	}
	return false
}

// SelectRoundRobin flattens the active view (group order, then intra-group
// order) and returns the backend at cursor mod length, advancing cursor.
// The flatten and the cursor read+advance happen under one lock
// acquisition, per spec.md §9's design note.
func (r *Registry) SelectRoundRobin() (Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flat := r.flattenActiveLocked()
	if len(flat) == 0 {
		return Backend{}, ErrNoBackend
	}
	idx := r.cursor % uint64(len(flat))
	r.cursor++
	return flat[idx], nil
}

// SelectLeastConnections returns the first active backend of the
// non-empty group with the smallest counter, ties broken by insertion
// order.
func (r *Registry) SelectLeastConnections() (Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	bestLabel := ""
	bestCount := 0
	for _, label := range r.order {
		group := r.active[label]
		if len(group) == 0 {
			continue
		}
		c := r.counts[label]
		if !found || c < bestCount {
			found = true
			bestLabel = label
			bestCount = c
		}
	}
	if !found {
		return Backend{}, ErrNoBackend
	}
	return r.active[bestLabel][0], nil
}

// ── internal helpers (must be called with r.mu held) ────────────────────────

func (r *Registry) flattenActiveLocked() []Backend {
	var out []Backend
	for _, label := range r.order {
		out = append(out, r.active[label]...)
	}
	return out
}

func (r *Registry) groupOfLocked(addr string) (string, bool) {
	for _, label := range r.order {
		for _, b := range r.configured[label] {
			if b.Addr == addr {
				return label, true
			}
		}
	}
	return "", false
}

func (r *Registry) removeLabelLocked(label string) {
	delete(r.configured, label)
	delete(r.active, label)
	delete(r.counts, label)
	for i, l := range r.order {
		if l == label {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) ensureOrderLocked(label string) {
	for _, l := range r.order {
		if l == label {
			return
		}
	}
	r.order = append(r.order, label)
}

func indexOfAddr(backends []Backend, addr string) int {
	for i, b := range backends {
		if b.Addr == addr {
			return i
		}
	}
	return -1
}
