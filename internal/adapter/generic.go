package adapter

import (
	"context"

	"github.com/luxfi/aggregator/internal/domain"
)

// Client is the abstract outbound call surface every generic adapter is
// built over. Its concrete wire encoding and transport are out of scope
// per spec.md §1; production binaries supply a real implementation, tests
// supply a stub.
type Client interface {
	Positions(ctx context.Context, id domain.EndpointID, user domain.UserID) ([]domain.Holding, error)
	Claimable(ctx context.Context, id domain.EndpointID, user domain.UserID) ([]domain.Reward, error)
	Claim(ctx context.Context, id domain.EndpointID, user domain.UserID) (string, error)
}

// genericAdapter implements Adapter by delegating to a Client, labeling
// every Holding it returns with its own registered name as Source so the
// aggregation pipeline's dex-filter and the claim engine can address it.
type genericAdapter struct {
	name   domain.AdapterName
	id     domain.EndpointID
	client Client
}

func (a *genericAdapter) Name() domain.AdapterName { return a.name }

func (a *genericAdapter) FetchPositions(ctx context.Context, user domain.UserID) ([]domain.Holding, error) {
	holdings, err := a.client.Positions(ctx, a.id, user)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Holding, len(holdings))
	for i, h := range holdings {
		h.Source = string(a.name)
		out[i] = h
	}
	return out, nil
}

func (a *genericAdapter) ClaimableRewards(ctx context.Context, user domain.UserID) ([]domain.Reward, error) {
	return a.client.Claimable(ctx, a.id, user)
}

func (a *genericAdapter) ClaimRewards(ctx context.Context, user domain.UserID) (string, error) {
	return a.client.Claim(ctx, a.id, user)
}

// NewGenericConstructor builds a Constructor for the given Kind, all
// sharing one underlying Client — the four registry Kinds (factory,
// router, vault, distributor) differ only in which endpoints the config
// assigns to them, not in call shape, matching spec.md §4.4's "one
// generic endpoint-driven variant" design note.
func NewGenericConstructor(client Client) Constructor {
	return func(name domain.AdapterName, id domain.EndpointID) Adapter {
		return &genericAdapter{name: name, id: id, client: client}
	}
}

// DefaultConstructors returns a constructor map suitable for NewRegistry
// where every Kind is served by the same generic, client-backed adapter.
func DefaultConstructors(client Client) map[Kind]Constructor {
	ctor := NewGenericConstructor(client)
	return map[Kind]Constructor{
		KindFactory:     ctor,
		KindRouter:      ctor,
		KindVault:       ctor,
		KindDistributor: ctor,
	}
}
