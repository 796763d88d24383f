// Package holdingscache is the per-user (holdings, summary, ts) cache,
// fresh within one minute (spec.md §4.5, §3).
package holdingscache

import (
	"sync"

	"github.com/luxfi/aggregator/internal/clock"
	"github.com/luxfi/aggregator/internal/domain"
)

// FreshWindow is the freshness window: an entry younger than this is
// returned unchanged by GetHoldings (spec.md §4.5).
const FreshWindow = clock.Minute

const shardCount = 32

type entry struct {
	holdings []domain.Holding
	summary  []domain.HoldingSummary
	ts       int64
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

// Cache is the process-wide holdings cache.
type Cache struct {
	clock  clock.Clock
	shards [shardCount]*shard
}

// New constructs an empty Cache.
func New(clk clock.Clock) *Cache {
	c := &Cache{clock: clk}
	for i := range c.shards {
		c.shards[i] = &shard{entries: map[string]entry{}}
	}
	return c
}

func (c *Cache) shardFor(user string) *shard {
	return c.shards[fnv32(user)%shardCount]
}

// Entry is the externally visible snapshot of one cached row.
type Entry struct {
	Holdings []domain.Holding
	Summary  []domain.HoldingSummary
	Ts       int64
}

// Fresh returns the cached entry for user iff it is younger than
// FreshWindow.
func (c *Cache) Fresh(user domain.UserID) (Entry, bool) {
	sh := c.shardFor(user.String())
	sh.mu.Lock()
	e, ok := sh.entries[user.String()]
	sh.mu.Unlock()

	if !ok {
		return Entry{}, false
	}
	if c.clock.NowNanos()-e.ts >= FreshWindow {
		return Entry{}, false
	}
	return Entry{Holdings: e.holdings, Summary: e.summary, Ts: e.ts}, true
}

// Put writes (holdings, summary, now) for user. Writers race under a
// per-shard lock; last-writer-wins across concurrent calls for the same
// user, per spec.md §4.5's ordering guarantee between concurrent users.
func (c *Cache) Put(user domain.UserID, holdings []domain.Holding, sm []domain.HoldingSummary) {
	sh := c.shardFor(user.String())
	sh.mu.Lock()
	sh.entries[user.String()] = entry{holdings: holdings, summary: sm, ts: c.clock.NowNanos()}
	sh.mu.Unlock()
}

// Len reports the total cached-user count, for the Metrics gauge.
func (c *Cache) Len() int {
	total := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
