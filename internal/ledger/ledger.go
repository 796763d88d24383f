// Package ledger implements the per-endpoint ledger balance fetch used by
// the Aggregation Pipeline (spec.md §4.5, "Ledger-per-endpoint fetch").
package ledger

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/luxfi/geth/log"

	"github.com/luxfi/aggregator/internal/amount"
	"github.com/luxfi/aggregator/internal/domain"
	"github.com/luxfi/aggregator/internal/metacache"
	"github.com/luxfi/aggregator/internal/resolver"
)

// BalanceClient performs the outbound balance_of call. Wire encoding and
// transport are out of scope (spec.md §1).
type BalanceClient interface {
	BalanceOf(ctx context.Context, id domain.EndpointID, user domain.UserID) (*big.Int, error)
}

// DefaultTimeout is the per-endpoint sub-fetch timeout (spec.md §4.5 point
// 3, FETCH_ADAPTER_TIMEOUT_SECS default 5s), applied to both the metadata
// lookup and the balance call.
const DefaultTimeout = 5 * time.Second

// Fetcher produces exactly one Holding per enabled, filter-passing ledger
// endpoint.
type Fetcher struct {
	resolver *resolver.Resolver
	meta     *metacache.Cache
	balances BalanceClient

	Timeout time.Duration
}

// New constructs a Fetcher with DefaultTimeout; callers may override it
// from configuration.
func New(res *resolver.Resolver, meta *metacache.Cache, balances BalanceClient) *Fetcher {
	return &Fetcher{resolver: res, meta: meta, balances: balances, Timeout: DefaultTimeout}
}

// FetchAll iterates every enabled ledger endpoint name, sorted for
// determinism, resolves metadata, then fetches the balance. A nil filter
// means no filtering; otherwise only endpoint ids present in filter are
// fetched (spec.md §3 UserSettings.PreferredLedgers).
func (f *Fetcher) FetchAll(ctx context.Context, user domain.UserID, filter *map[domain.EndpointID]struct{}) []domain.Holding {
	names := f.resolver.EnabledNames()
	sort.Strings(names)

	holdings := make([]domain.Holding, 0, len(names))
	for _, name := range names {
		id, ok := f.resolver.Resolve(name)
		if !ok {
			continue
		}
		if filter != nil {
			if _, allowed := (*filter)[id]; !allowed {
				continue
			}
		}
		holdings = append(holdings, f.fetchOne(ctx, id, user))
	}
	return holdings
}

// fetchOne wraps each sub-call in its own Timeout-bounded context, the same
// way engine.fetchDex guards each adapter call, so a hung RPC degrades this
// one endpoint instead of blocking the whole fan-out (spec.md §4.5 point 3).
func (f *Fetcher) fetchOne(ctx context.Context, id domain.EndpointID, user domain.UserID) domain.Holding {
	metaCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	md, err := f.meta.Get(metaCtx, id)
	cancel()
	if err != nil {
		log.Debug("ledger metadata unavailable", "endpoint", id, "err", err)
		return domain.Holding{Source: "ledger", Token: "unknown", Amount: "0", Status: domain.StatusError}
	}

	balCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	bal, err := f.fetchBalanceWithRetry(balCtx, id, user)
	cancel()
	if err != nil {
		log.Debug("ledger balance unavailable", "endpoint", id, "err", err)
		return domain.Holding{Source: "ledger", Token: md.Symbol, Amount: "0", Status: domain.StatusError}
	}

	return domain.Holding{
		Source: "ledger",
		Token:  md.Symbol,
		Amount: amount.Format(bal, md.Decimals),
		Status: domain.StatusLiquid,
	}
}

// fetchBalanceWithRetry applies the same retry policy as the metadata
// cache: up to three attempts, exponential backoff starting at 100ms
// (spec.md §4.2, §7).
func (f *Fetcher) fetchBalanceWithRetry(ctx context.Context, id domain.EndpointID, user domain.UserID) (*big.Int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	return backoff.Retry(ctx, func() (*big.Int, error) {
		return f.balances.BalanceOf(ctx, id, user)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(3))
}
