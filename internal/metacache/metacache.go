// Package metacache is the per-endpoint (symbol, decimals, fee) cache with
// TTL + content-hash revalidation (spec.md §4.2).
package metacache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/luxfi/geth/log"

	"github.com/luxfi/aggregator/internal/clock"
	"github.com/luxfi/aggregator/internal/domain"
)

// TTL is the metadata cache freshness window (spec.md §4.2).
const TTL = clock.Hour * 24

// hashSize is the canonical content-hash length; entries restored with a
// hash of any other length are discarded (spec.md §4.2 "Stable form").
const hashSize = sha256.Size

// Metadata is the (symbol, decimals, fee) tuple returned by a ledger's
// metadata call.
type Metadata struct {
	Symbol   string
	Decimals uint8
	Fee      string
}

// Fetcher performs the outbound metadata call for one endpoint. Its
// internals (wire encoding, transport) are out of scope per spec.md §1.
type Fetcher interface {
	FetchMetadata(ctx context.Context, id domain.EndpointID) (Metadata, error)
}

type entry struct {
	Metadata
	hash      [hashSize]byte
	expiresAt int64
}

// Cache is the process-wide metadata cache: one map keyed by endpoint id
// under a single RWMutex, not sharded — correctness, per spec.md §5, does not depend
// on parallel cache structures, only on the single-threaded-suspension
// model retries already respect.
type Cache struct {
	fetcher Fetcher
	clock   clock.Clock

	mu      sync.RWMutex
	entries map[domain.EndpointID]entry
}

// New constructs a Cache backed by fetcher, using clk for TTL decisions.
func New(fetcher Fetcher, clk clock.Clock) *Cache {
	return &Cache{fetcher: fetcher, clock: clk, entries: map[domain.EndpointID]entry{}}
}

// Get returns the metadata for id, fetching (with retry) on miss or
// expiry. On hash match at refresh time only expires_at advances; on
// mismatch the entry is replaced wholesale (spec.md §4.2).
func (c *Cache) Get(ctx context.Context, id domain.EndpointID) (Metadata, error) {
	now := c.clock.NowNanos()

	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && now < e.expiresAt {
		return e.Metadata, nil
	}

	md, err := c.fetchWithRetry(ctx, id)
	if err != nil {
		// Cache is not polluted on final failure.
		return Metadata{}, err
	}

	h := contentHash(md)
	newExpiry := now + TTL

	c.mu.Lock()
	defer c.mu.Unlock()
	prior, had := c.entries[id]
	if had && prior.hash == h {
		prior.expiresAt = newExpiry
		c.entries[id] = prior
		return prior.Metadata, nil
	}
	c.entries[id] = entry{Metadata: md, hash: h, expiresAt: newExpiry}
	return md, nil
}

// Invalidate clears a single endpoint's cached metadata, used when
// adapters clear their endpoint-keyed sub-caches on config reload.
func (c *Cache) Invalidate(id domain.EndpointID) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = map[domain.EndpointID]entry{}
	c.mu.Unlock()
}

// fetchWithRetry wraps the outbound call in up to three attempts with
// exponential backoff starting at 100ms (spec.md §4.2, §7).
func (c *Cache) fetchWithRetry(ctx context.Context, id domain.EndpointID) (Metadata, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	var attempt int
	return backoff.Retry(ctx, func() (Metadata, error) {
		attempt++
		md, err := c.fetcher.FetchMetadata(ctx, id)
		if err != nil {
			log.Debug("metadata fetch failed, retrying", "endpoint", id, "attempt", attempt, "err", err)
			return Metadata{}, err
		}
		return md, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(3))
}

func contentHash(md Metadata) [hashSize]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", md.Symbol, md.Decimals, md.Fee)))
}

// StableEntry is the serialized shape of one metadata row, matching
// spec.md §4.2's "(endpoint_id, symbol, decimals, fee, hash_bytes,
// expires_at)" tuple.
type StableEntry struct {
	EndpointID string
	Symbol     string
	Decimals   uint8
	Fee        string
	Hash       []byte
	ExpiresAt  int64
}

// Save serializes the cache to its stable form.
func (c *Cache) Save() []StableEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]StableEntry, 0, len(c.entries))
	for id, e := range c.entries {
		hashCopy := make([]byte, hashSize)
		copy(hashCopy, e.hash[:])
		out = append(out, StableEntry{
			EndpointID: string(id),
			Symbol:     e.Symbol,
			Decimals:   e.Decimals,
			Fee:        e.Fee,
			Hash:       hashCopy,
			ExpiresAt:  e.expiresAt,
		})
	}
	return out
}

// Restore repopulates the cache from a stable snapshot. Entries whose hash
// is not exactly hashSize bytes are discarded (spec.md §4.2).
func (c *Cache) Restore(entries []StableEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = map[domain.EndpointID]entry{}
	for _, se := range entries {
		if len(se.Hash) != hashSize {
			continue
		}
		var h [hashSize]byte
		copy(h[:], se.Hash)
		c.entries[domain.EndpointID(se.EndpointID)] = entry{
			Metadata:  Metadata{Symbol: se.Symbol, Decimals: se.Decimals, Fee: se.Fee},
			hash:      h,
			expiresAt: se.ExpiresAt,
		}
	}
}
