// Package neuron implements the governance-neuron sub-fetch of the
// Aggregation Pipeline (spec.md §2, §4.5). A "neuron" here is any
// staked/locked governance position the external neuron source reports;
// the wire format of that source is out of scope (spec.md §1).
package neuron

import (
	"context"

	"github.com/luxfi/geth/log"

	"github.com/luxfi/aggregator/internal/domain"
)

// Client performs the outbound neuron listing call for one user.
type Client interface {
	ListNeurons(ctx context.Context, user domain.UserID) ([]domain.Holding, error)
}

// Fetcher wraps a Client to produce the neuron portion of a GetHoldings
// fan-out.
type Fetcher struct {
	client Client
}

// New constructs a Fetcher.
func New(client Client) *Fetcher {
	return &Fetcher{client: client}
}

// FetchAll returns every neuron-derived Holding for user. Unlike the
// ledger path, a neuron-source failure is surfaced to the caller (the
// pipeline treats it the same as an adapter failure per spec.md §4.5 rule
// 4 — the neuron fetch is one of the three fan-out arms the whole call
// fails on).
func (f *Fetcher) FetchAll(ctx context.Context, user domain.UserID) ([]domain.Holding, error) {
	holdings, err := f.client.ListNeurons(ctx, user)
	if err != nil {
		log.Debug("neuron fetch failed", "user", user.String(), "err", err)
		return nil, err
	}
	for i := range holdings {
		holdings[i].Source = "neuron"
	}
	return holdings, nil
}
