// Package poolreg is the pool-description registry (SPEC_FULL.md
// "Supplemented features" item 3), grounded on
// original_source/src/aggregator/src/pool_registry.rs: a small
// load/refresh/lookup-by-id table fed by its own periodic timer, separate
// from the warm-up scheduler.
package poolreg

import (
	"strings"
	"sync"

	"github.com/luxfi/geth/log"
	"github.com/spf13/viper"

	"github.com/luxfi/aggregator/internal/domain"
)

// Registry holds the loaded pool table, keyed by pool id.
type Registry struct {
	mu    sync.RWMutex
	path  string
	pools map[string]domain.PoolMeta
}

// NewRegistry constructs an empty Registry for the given pools file path.
func NewRegistry(path string) *Registry {
	return &Registry{path: path, pools: map[string]domain.PoolMeta{}}
}

// poolFile mirrors the `[[pool]] id = ... token_a = ...` array-of-tables
// shape described in spec.md §6.
type poolFile struct {
	Pool []struct {
		ID        string `mapstructure:"id"`
		TokenA    string `mapstructure:"token_a"`
		TokenB    string `mapstructure:"token_b"`
		DecimalsA uint8  `mapstructure:"decimals_a"`
		DecimalsB uint8  `mapstructure:"decimals_b"`
		ImageA    string `mapstructure:"image_a"`
		ImageB    string `mapstructure:"image_b"`
	} `mapstructure:"pool"`
}

// Reload re-reads the pools file. A missing/malformed file leaves the
// registry empty rather than failing, matching the Config Loader's
// failure semantics (spec.md §4.1).
func (r *Registry) Reload() {
	v := viper.New()
	v.SetConfigFile(r.path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		log.Warn("pools file missing or malformed, pool registry empty", "path", r.path, "err", err)
		r.replace(nil)
		return
	}

	var pf poolFile
	if err := v.Unmarshal(&pf); err != nil {
		log.Warn("pools file could not be parsed, pool registry empty", "path", r.path, "err", err)
		r.replace(nil)
		return
	}

	next := make(map[string]domain.PoolMeta, len(pf.Pool))
	for _, p := range pf.Pool {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			continue
		}
		next[id] = domain.PoolMeta{
			ID:        id,
			TokenA:    p.TokenA,
			TokenB:    p.TokenB,
			DecimalsA: p.DecimalsA,
			DecimalsB: p.DecimalsB,
			ImageA:    p.ImageA,
			ImageB:    p.ImageB,
		}
	}
	r.replace(next)
}

func (r *Registry) replace(next map[string]domain.PoolMeta) {
	if next == nil {
		next = map[string]domain.PoolMeta{}
	}
	r.mu.Lock()
	r.pools = next
	r.mu.Unlock()
}

// Lookup returns the PoolMeta for id, if known.
func (r *Registry) Lookup(id string) (domain.PoolMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[id]
	return p, ok
}

// All returns a snapshot slice of every known pool, for pools_graphql.
func (r *Registry) All() []domain.PoolMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PoolMeta, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	return out
}
