// Package lpcache is the per-(user, pool) LP-position cache, invalidated by
// pool height advance or one-week staleness (spec.md §4.3).
package lpcache

import (
	"sync"

	"github.com/luxfi/aggregator/internal/clock"
	"github.com/luxfi/aggregator/internal/domain"
)

// StaleNanos is one week, the maximum entry age before eviction.
const StaleNanos = clock.Week

const shardCount = 32

type key struct {
	user domain.UserID
	pool string
}

type entry struct {
	holdings []domain.Holding
	height   uint64
	ts       int64
}

type shard struct {
	mu      sync.Mutex
	entries map[key]entry
}

// Cache is a sharded map. Every read and write takes the mutex of the key's
// shard, so reads are not lock-free and exclusion is per shard, not per
// key; the mutex is not held while FetchFn runs. spec.md §4.3 explicitly allows concurrent calls for
// the same key to each trigger FetchFn, last write wins — no single-flight
// is layered on top (see DESIGN.md Open Questions).
type Cache struct {
	clock  clock.Clock
	shards [shardCount]*shard
}

// FetchFn produces the current positions for (user, pool) on a cache miss
// or invalidation.
type FetchFn func() ([]domain.Holding, uint64, error)

// New constructs an empty Cache using clk for staleness decisions.
func New(clk clock.Clock) *Cache {
	c := &Cache{clock: clk}
	for i := range c.shards {
		c.shards[i] = &shard{entries: map[key]entry{}}
	}
	return c
}

func (c *Cache) shardFor(k key) *shard {
	h := fnv32(k.user.String() + "|" + k.pool)
	return c.shards[h%shardCount]
}

// GetOrFetch returns the cached holdings iff the cached height equals
// observedHeight and the entry is not older than StaleNanos. Otherwise it
// invokes fetch, replaces the entry, and returns the fresh result.
func (c *Cache) GetOrFetch(user domain.UserID, pool string, observedHeight uint64, fetch FetchFn) ([]domain.Holding, error) {
	k := key{user: user, pool: pool}
	sh := c.shardFor(k)

	sh.mu.Lock()
	e, ok := sh.entries[k]
	sh.mu.Unlock()

	now := c.clock.NowNanos()
	if ok && e.height == observedHeight && now-e.ts < StaleNanos {
		return e.holdings, nil
	}

	holdings, height, err := fetch()
	if err != nil {
		return nil, err
	}

	sh.mu.Lock()
	sh.entries[k] = entry{holdings: holdings, height: height, ts: c.clock.NowNanos()}
	sh.mu.Unlock()

	return holdings, nil
}

// EvictStale sweeps every shard and drops entries older than StaleNanos.
// Intended to be called once per week by the warm-up/eviction scheduler
// (spec.md §4.3, §4.8).
func (c *Cache) EvictStale() int {
	now := c.clock.NowNanos()
	evicted := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if now-e.ts >= StaleNanos {
				delete(sh.entries, k)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Len reports the total number of cached entries, for the Metrics gauge.
func (c *Cache) Len() int {
	total := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

// StableEntry is the serialized shape of one LP cache row (spec.md §3,
// §4.10).
type StableEntry struct {
	User     string
	Pool     string
	Height   uint64
	Ts       int64
	Holdings []domain.Holding
}

// Save serializes every shard to its stable form.
func (c *Cache) Save() []StableEntry {
	out := []StableEntry{}
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			out = append(out, StableEntry{
				User:     k.user.String(),
				Pool:     k.pool,
				Height:   e.height,
				Ts:       e.ts,
				Holdings: e.holdings,
			})
		}
		sh.mu.Unlock()
	}
	return out
}

// Restore repopulates the cache from a stable snapshot. Entries whose
// user identity fails validation are skipped.
func (c *Cache) Restore(entries []StableEntry) {
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.entries = map[key]entry{}
		sh.mu.Unlock()
	}
	for _, se := range entries {
		user, err := domain.ParseUserID(se.User)
		if err != nil {
			continue
		}
		k := key{user: user, pool: se.Pool}
		sh := c.shardFor(k)
		sh.mu.Lock()
		sh.entries[k] = entry{holdings: se.Holdings, height: se.Height, ts: se.Ts}
		sh.mu.Unlock()
	}
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
