// Package registry implements the Runtime Registry (C3): resolving a
// language_title to the network endpoint of the runtime worker that
// executes it.
package registry

import (
	"errors"
	"strings"
	"sync"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
)

// ErrUnknownRuntime is returned when a language_title cannot be resolved
// to a configured runtime endpoint (§7: UNKNOWN_RUNTIME, 404).
var ErrUnknownRuntime = errors.New("registry: unknown runtime")

// Strategy selects how a language_title is resolved to an endpoint.
type Strategy string

const (
	StrategyPrefixMatching Strategy = "PrefixMatching"
	StrategyExact          Strategy = "Exact"
	StrategyDiscovery      Strategy = "Discovery"
)

// Registry resolves a language_title to a RuntimeEndpoint using the
// configured strategy, and holds a health snapshot per endpoint that
// MarkHealth updates. Nothing in the Runtime Client calls MarkHealth;
// the snapshot changes only through MarkHealth or ReplaceAll.
//
// ReplaceAll swaps the whole endpoint table (copy-on-write, per §5
// "updates via discovery use copy-on-write") and MarkHealth stores an
// updated copy of a single entry, both under the write lock, so Resolve,
// which takes only the read lock, never observes a partially updated
// table or endpoint.
type Registry struct {
	strategy Strategy

	mu sync.RWMutex
	// endpoints maps language (or language_title, for Exact) to its
	// endpoint. Endpoint values are never mutated in place: ReplaceAll
	// swaps the whole map and MarkHealth stores a modified copy of one
	// entry, both while holding the write lock.
	endpoints map[string]*domain.RuntimeEndpoint
}

// New creates a Registry with an initial static endpoint table and
// resolution strategy. For StrategyDiscovery the table is expected to be
// refreshed periodically via ReplaceAll (see discovery.go).
func New(strategy Strategy, initial map[string]*domain.RuntimeEndpoint) *Registry {
	if initial == nil {
		initial = make(map[string]*domain.RuntimeEndpoint)
	}
	return &Registry{
		strategy:  strategy,
		endpoints: initial,
	}
}

// Resolve maps a language_title to its runtime endpoint.
func (r *Registry) Resolve(languageTitle string) (*domain.RuntimeEndpoint, error) {
	key := languageTitle
	if r.strategy == StrategyPrefixMatching {
		if idx := strings.IndexByte(languageTitle, '-'); idx >= 0 {
			key = languageTitle[:idx]
		}
	}

	r.mu.RLock()
	ep, ok := r.endpoints[key]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownRuntime
	}
	return ep, nil
}

// ReplaceAll atomically swaps the entire endpoint table (copy-on-write).
func (r *Registry) ReplaceAll(table map[string]*domain.RuntimeEndpoint) {
	r.mu.Lock()
	r.endpoints = table
	r.mu.Unlock()
}

// Snapshot returns a shallow copy of the current endpoint table for
// observability/health endpoints.
func (r *Registry) Snapshot() map[string]*domain.RuntimeEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*domain.RuntimeEndpoint, len(r.endpoints))
	for k, v := range r.endpoints {
		cp := *v
		out[k] = &cp
	}
	return out
}

// MarkHealth updates the health snapshot for a single endpoint key
// in place without requiring a full table swap.
func (r *Registry) MarkHealth(key, health string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ep, ok := r.endpoints[key]; ok {
		cp := *ep
		cp.Health = health
		r.endpoints[key] = &cp
	}
}
