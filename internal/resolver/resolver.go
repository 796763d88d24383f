// Package resolver resolves symbolic endpoint names (e.g. PRIMARY_FACTORY)
// to endpoint identifiers, sanity-checking each entry on load and
// memoizing successful resolutions until the next config reload
// (spec.md §4.1).
//
// Grounded on interfaces/rpc.go's EndpointRequester abstraction from the
// teacher (github.com/luxfi/evm): the probe calls below use the same
// ctx-first, typed-reply request shape as EndpointRequester.SendRequest.
// The memoization cache uses github.com/hashicorp/golang-lru, a direct
// teacher dependency.
package resolver

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/luxfi/geth/log"

	"github.com/luxfi/aggregator/internal/config"
	"github.com/luxfi/aggregator/internal/domain"
)

// Prober performs the two sanity-check probes spec.md §4.1 requires before
// an entry is trusted: a metadata call, and (if an expected controller is
// configured) a management call returning the endpoint's controllers.
type Prober interface {
	ProbeMetadata(ctx context.Context, id domain.EndpointID) error
	ProbeControllers(ctx context.Context, id domain.EndpointID) ([]string, error)
}

const cacheSize = 4096

// Resolver resolves symbolic names within one config section (ledgers or
// dex) to endpoint identifiers, honoring sanity-check disablement.
type Resolver struct {
	prober Prober

	mu       sync.RWMutex
	table    config.Table
	disabled map[string]struct{}
	cache    *lru.Cache
}

// New constructs a Resolver backed by prober for sanity checks.
func New(prober Prober) *Resolver {
	c, _ := lru.New(cacheSize)
	return &Resolver{prober: prober, cache: c, disabled: map[string]struct{}{}}
}

// Reload re-sanity-checks every entry in table and replaces the resolver's
// view. Called once per Config Loader reload with the table this Resolver
// serves (cmd/aggregatord passes the ledgers table only). The resolver's
// memoization cache is cleared unconditionally, per
// spec.md §4.1's hot-reload rule.
func (r *Resolver) Reload(ctx context.Context, table config.Table, controllers map[string]string) {
	disabled := map[string]struct{}{}

	for name, id := range table {
		if err := r.prober.ProbeMetadata(ctx, id); err != nil {
			log.Warn("endpoint disabled: metadata probe failed", "name", name, "endpoint", id, "err", err)
			disabled[name] = struct{}{}
			continue
		}
		if expected, ok := controllers[name]; ok && expected != "" {
			got, err := r.prober.ProbeControllers(ctx, id)
			if err != nil || !contains(got, expected) {
				log.Warn("endpoint disabled: controller probe failed", "name", name, "endpoint", id)
				disabled[name] = struct{}{}
			}
		}
	}

	r.mu.Lock()
	r.table = table
	r.disabled = disabled
	r.cache.Purge()
	r.mu.Unlock()
}

// Resolve returns the endpoint id for name, or (_, false) if the name is
// unknown, disabled, or was unparseable at load time.
func (r *Resolver) Resolve(name string) (domain.EndpointID, bool) {
	key := strings.ToUpper(name)

	if v, ok := r.cache.Get(key); ok {
		return v.(domain.EndpointID), true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, bad := r.disabled[key]; bad {
		return "", false
	}
	id, ok := r.table[key]
	if !ok {
		return "", false
	}
	r.cache.Add(key, id)
	return id, true
}

// EnabledNames returns every resolvable (enabled) symbolic name, sorted by
// the caller if determinism is required.
func (r *Resolver) EnabledNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.table))
	for name := range r.table {
		if _, bad := r.disabled[name]; bad {
			continue
		}
		names = append(names, name)
	}
	return names
}

func contains(hay []string, needle string) bool {
	for _, h := range hay {
		if h == needle {
			return true
		}
	}
	return false
}
