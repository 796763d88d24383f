// Package engine implements the Aggregation Pipeline (spec.md §4.5), the
// central GetHoldings operation this whole service exists to serve.
//
// Grounded on warp/aggregator/aggregator.go's AggregateSignatures from the
// teacher (github.com/luxfi/evm): a concurrent fan-out over a bounded set
// of tasks, collected with a typed result. Generalized here from "N
// validators, one signature request" to "3 sub-fetches (ledger, neuron,
// dex), each internally fanning out its own sub-tasks". Uses
// golang.org/x/sync/errgroup (a teacher direct require) in place of the
// hand-rolled channel-collection loop the teacher uses, since errgroup is
// the idiomatic replacement for exactly that shape and is already in the
// teacher's dependency stack.
package engine

import (
	"context"
	"time"

	"github.com/luxfi/geth/log"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/aggregator/internal/adapter"
	"github.com/luxfi/aggregator/internal/cert"
	"github.com/luxfi/aggregator/internal/domain"
	"github.com/luxfi/aggregator/internal/engineerr"
	"github.com/luxfi/aggregator/internal/holdingscache"
	"github.com/luxfi/aggregator/internal/ledger"
	"github.com/luxfi/aggregator/internal/neuron"
	"github.com/luxfi/aggregator/internal/summary"
	"github.com/luxfi/aggregator/internal/usersettings"
)

// DefaultMaxHoldings and DefaultAdapterTimeout mirror spec.md §4.5's
// defaults (MAX_HOLDINGS=500, per-sub-fetch timeout 5s).
const (
	DefaultMaxHoldings   = 500
	DefaultAdapterTimeout = 5 * time.Second
)

// Engine owns every cache, registry, and fetcher the Aggregation Pipeline
// fans out to. Constructed once at startup and passed around as a single
// handle, per spec.md §9's "process-wide mutable state becomes explicit
// context" design note — no global singletons.
type Engine struct {
	Ledger   *ledger.Fetcher
	Neuron   *neuron.Fetcher
	Adapters *adapter.Registry
	Holdings *holdingscache.Cache
	Settings *usersettings.Store
	Cert     *cert.Store

	MaxHoldings    int
	AdapterTimeout time.Duration
}

// New constructs an Engine with spec.md §4.5 defaults for MaxHoldings and
// AdapterTimeout; callers may override both from configuration.
func New(ledgerFetcher *ledger.Fetcher, neuronFetcher *neuron.Fetcher, adapters *adapter.Registry, holdings *holdingscache.Cache, settings *usersettings.Store, certStore *cert.Store) *Engine {
	return &Engine{
		Ledger:         ledgerFetcher,
		Neuron:         neuronFetcher,
		Adapters:       adapters,
		Holdings:       holdings,
		Settings:       settings,
		Cert:           certStore,
		MaxHoldings:    DefaultMaxHoldings,
		AdapterTimeout: DefaultAdapterTimeout,
	}
}

// GetHoldings is the cached, fresh-within-minute read path (spec.md §6).
func (e *Engine) GetHoldings(ctx context.Context, user domain.UserID) ([]domain.Holding, error) {
	if entry, ok := e.Holdings.Fresh(user); ok {
		return entry.Holdings, nil
	}
	holdings, _, err := e.recompute(ctx, user, nil, nil)
	return holdings, err
}

// GetHoldingsFiltered recomputes without consulting the cache, applying
// explicit ledger/dex filters (spec.md §6).
func (e *Engine) GetHoldingsFiltered(ctx context.Context, user domain.UserID, ledgers []string, dexes []string) ([]domain.Holding, error) {
	ledgerFilter := toEndpointSet(ledgers)
	dexFilter := toAdapterSet(dexes)
	holdings, _, err := e.recompute(ctx, user, ledgerFilter, dexFilter)
	return holdings, err
}

// RefreshHoldings forces a recompute and certification, ignoring cache
// freshness but still honoring the user's stored preferences (spec.md §6).
func (e *Engine) RefreshHoldings(ctx context.Context, user domain.UserID) error {
	_, _, err := e.recompute(ctx, user, nil, nil)
	return err
}

// GetHoldingsSummary returns the summarised view, recomputing via the same
// freshness rule as GetHoldings.
func (e *Engine) GetHoldingsSummary(ctx context.Context, user domain.UserID) ([]domain.HoldingSummary, error) {
	if entry, ok := e.Holdings.Fresh(user); ok {
		return entry.Summary, nil
	}
	_, sm, err := e.recompute(ctx, user, nil, nil)
	return sm, err
}

// recompute is the core of spec.md §4.5 steps 1-9: load preferences, fan
// out, merge, truncate, summarise, cache, certify.
func (e *Engine) recompute(ctx context.Context, user domain.UserID, explicitLedgers *map[domain.EndpointID]struct{}, explicitDexes *map[domain.AdapterName]struct{}) ([]domain.Holding, []domain.HoldingSummary, error) {
	ledgerFilter, dexFilter := explicitLedgers, explicitDexes
	if ledgerFilter == nil && dexFilter == nil {
		settings := e.Settings.Get(user)
		ledgerFilter = settings.PreferredLedgers
		dexFilter = settings.PreferredDexes
	}

	var ledgerHoldings []domain.Holding
	var neuronHoldings []domain.Holding
	var dexHoldings []domain.Holding

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ledgerHoldings = e.Ledger.FetchAll(gctx, user, ledgerFilter)
		return nil
	})

	g.Go(func() error {
		h, err := e.Neuron.FetchAll(gctx, user)
		if err != nil {
			return engineerr.Network(err.Error())
		}
		neuronHoldings = h
		return nil
	})

	g.Go(func() error {
		h, err := e.fetchDex(gctx, user, dexFilter)
		if err != nil {
			return err
		}
		dexHoldings = h
		return nil
	})

	if err := g.Wait(); err != nil {
		// Policy: any adapter (or neuron) fan-out failure fails the whole
		// call; the ledger path never reaches this branch since it
		// degrades per-endpoint instead of erroring (spec.md §4.5 rule 4,
		// §7).
		return nil, nil, err
	}

	merged := make([]domain.Holding, 0, len(ledgerHoldings)+len(neuronHoldings)+len(dexHoldings))
	merged = append(merged, ledgerHoldings...)
	merged = append(merged, neuronHoldings...)
	merged = append(merged, dexHoldings...)

	if len(merged) > e.MaxHoldings {
		merged = merged[:e.MaxHoldings]
	}

	sm, err := summary.Summarise(merged)
	if err != nil {
		return nil, nil, err
	}

	e.Holdings.Put(user, merged, sm)
	e.Cert.Update(user, merged)

	return merged, sm, nil
}

// fetchDex runs fetch_positions across every dex-filter-passing adapter
// concurrently, each guarded by AdapterTimeout. Any single adapter
// failure (including timeout) fails the whole dex fan-out, per spec.md
// §4.5 rule 4 and §9's open-question resolution.
func (e *Engine) fetchDex(ctx context.Context, user domain.UserID, filter *map[domain.AdapterName]struct{}) ([]domain.Holding, error) {
	entries := e.Adapters.Filtered(filter)

	results := make([][]domain.Holding, len(entries))
	g, gctx := errgroup.WithContext(ctx)

	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, e.AdapterTimeout)
			defer cancel()

			holdings, err := entry.Adapter.FetchPositions(callCtx, user)
			if callCtx.Err() != nil {
				log.Debug("adapter fetch timed out", "adapter", entry.Name)
				return engineerr.Timeout()
			}
			if err != nil {
				return engineerr.Network(err.Error())
			}
			results[i] = holdings
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.Holding, 0, len(entries))
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func toEndpointSet(raw []string) *map[domain.EndpointID]struct{} {
	if raw == nil {
		return nil
	}
	m := make(map[domain.EndpointID]struct{}, len(raw))
	for _, s := range raw {
		m[domain.EndpointID(s)] = struct{}{}
	}
	return &m
}

func toAdapterSet(raw []string) *map[domain.AdapterName]struct{} {
	if raw == nil {
		return nil
	}
	m := make(map[domain.AdapterName]struct{}, len(raw))
	for _, s := range raw {
		m[domain.AdapterName(s)] = struct{}{}
	}
	return &m
}
