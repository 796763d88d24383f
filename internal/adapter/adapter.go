// Package adapter is the named, hot-swappable capability registry (spec.md
// §4.4). Adapters implement fetch_positions / claimable_rewards /
// claim_rewards over one or more endpoints.
//
// Grounded on warp/aggregator/aggregator.go's SignatureGetter capability
// interface from the teacher (github.com/luxfi/evm): a small interface
// handed to every concurrent fan-out caller, with the concrete
// implementation free to hold its own per-endpoint sub-state. The
// name-pattern dispatch rule is pinned by
// original_source/src/aggregator/src/dex/registry.rs (suffix match for
// factory/router/vault, prefix match for distributor).
package adapter

import (
	"context"
	"strings"
	"sync"

	"github.com/luxfi/geth/log"

	"github.com/luxfi/aggregator/internal/domain"
)

// Adapter is the capability set every registry entry implements. Safe to
// call from multiple concurrent fan-outs (spec.md §4.4).
type Adapter interface {
	Name() domain.AdapterName
	FetchPositions(ctx context.Context, user domain.UserID) ([]domain.Holding, error)
	ClaimableRewards(ctx context.Context, user domain.UserID) ([]domain.Reward, error)
	ClaimRewards(ctx context.Context, user domain.UserID) (amountSpent string, err error)
}

// Kind is the closed set of adapter constructors the registry knows about.
type Kind int

const (
	KindFactory Kind = iota
	KindRouter
	KindVault
	KindDistributor
)

// Constructor builds an Adapter bound to endpoint id, named name.
type Constructor func(name domain.AdapterName, id domain.EndpointID) Adapter

// ClassifyName applies the normative name-pattern rule: *_FACTORY,
// *_ROUTER, *_VAULT (suffix match) or SNS_* (prefix match), all
// case-insensitive. Unknown patterns return (_, false) and are ignored by
// the registry, per spec.md §4.4.
func ClassifyName(name string) (Kind, bool) {
	upper := strings.ToUpper(name)
	switch {
	case strings.HasSuffix(upper, "_FACTORY"):
		return KindFactory, true
	case strings.HasSuffix(upper, "_ROUTER"):
		return KindRouter, true
	case strings.HasSuffix(upper, "_VAULT"):
		return KindVault, true
	case strings.HasPrefix(upper, "SNS_"):
		return KindDistributor, true
	default:
		return 0, false
	}
}

// Entry is one registered (name, adapter) pair.
type Entry struct {
	Name    domain.AdapterName
	Adapter Adapter
}

// Registry holds an ordered list of registered adapters, rebuilt wholesale
// on every config reload.
type Registry struct {
	constructors map[Kind]Constructor

	mu      sync.RWMutex
	entries []Entry
}

// NewRegistry constructs an empty Registry. constructors maps each Kind to
// the factory function that builds that style of adapter.
func NewRegistry(constructors map[Kind]Constructor) *Registry {
	return &Registry{constructors: constructors}
}

// Reload rebuilds the registry's entry list from the resolved dex config
// table: for each name, ClassifyName selects a constructor; unknown
// patterns are ignored (spec.md §4.4).
func (r *Registry) Reload(table map[string]domain.EndpointID) {
	entries := make([]Entry, 0, len(table))
	for name, id := range table {
		kind, ok := ClassifyName(name)
		if !ok {
			log.Debug("adapter name pattern not recognized, ignoring", "name", name)
			continue
		}
		ctor, ok := r.constructors[kind]
		if !ok {
			log.Warn("no constructor registered for adapter kind", "name", name)
			continue
		}
		entries = append(entries, Entry{
			Name:    domain.AdapterName(name),
			Adapter: ctor(domain.AdapterName(name), id),
		})
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
}

// All returns a snapshot of the current registered entries, in
// registration order.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Filtered returns the subset of entries whose name is in allowed. A nil
// allowed set means "no filter" and returns every entry, matching
// spec.md §3's UserSettings.PreferredDexes semantics.
func (r *Registry) Filtered(allowed *map[domain.AdapterName]struct{}) []Entry {
	all := r.All()
	if allowed == nil {
		return all
	}
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if _, ok := (*allowed)[e.Name]; ok {
			out = append(out, e)
		}
	}
	return out
}
