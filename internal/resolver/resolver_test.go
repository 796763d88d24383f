package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/aggregator/internal/config"
	"github.com/luxfi/aggregator/internal/domain"
)

type fakeProber struct {
	metaErr        map[domain.EndpointID]error
	controllers    map[domain.EndpointID][]string
	controllersErr map[domain.EndpointID]error
}

func (f *fakeProber) ProbeMetadata(ctx context.Context, id domain.EndpointID) error {
	return f.metaErr[id]
}

func (f *fakeProber) ProbeControllers(ctx context.Context, id domain.EndpointID) ([]string, error) {
	return f.controllers[id], f.controllersErr[id]
}

func TestResolveUnknownNameFails(t *testing.T) {
	r := New(&fakeProber{})
	_, ok := r.Resolve("NOPE")
	require.False(t, ok)
}

func TestReloadThenResolveKnownName(t *testing.T) {
	r := New(&fakeProber{})
	r.Reload(context.Background(), config.Table{"PRIMARY_FACTORY": "ep1"}, nil)

	id, ok := r.Resolve("primary_factory")
	require.True(t, ok)
	require.Equal(t, domain.EndpointID("ep1"), id)
}

func TestReloadDisablesEndpointOnMetadataProbeFailure(t *testing.T) {
	prober := &fakeProber{metaErr: map[domain.EndpointID]error{"ep1": context.DeadlineExceeded}}
	r := New(prober)
	r.Reload(context.Background(), config.Table{"PRIMARY_FACTORY": "ep1"}, nil)

	_, ok := r.Resolve("PRIMARY_FACTORY")
	require.False(t, ok)
}

func TestReloadDisablesEndpointOnControllerMismatch(t *testing.T) {
	prober := &fakeProber{
		controllers: map[domain.EndpointID][]string{"ep1": {"other-controller"}},
	}
	r := New(prober)
	r.Reload(context.Background(), config.Table{"PRIMARY_FACTORY": "ep1"},
		map[string]string{"PRIMARY_FACTORY": "expected-controller"})

	_, ok := r.Resolve("PRIMARY_FACTORY")
	require.False(t, ok)
}

func TestReloadClearsPriorState(t *testing.T) {
	r := New(&fakeProber{})
	r.Reload(context.Background(), config.Table{"A": "ep1"}, nil)
	_, ok := r.Resolve("A")
	require.True(t, ok)

	r.Reload(context.Background(), config.Table{"B": "ep2"}, nil)
	_, ok = r.Resolve("A")
	require.False(t, ok)
	_, ok = r.Resolve("B")
	require.True(t, ok)
}

func TestEnabledNamesExcludesDisabled(t *testing.T) {
	prober := &fakeProber{metaErr: map[domain.EndpointID]error{"ep2": context.DeadlineExceeded}}
	r := New(prober)
	r.Reload(context.Background(), config.Table{"A": "ep1", "B": "ep2"}, nil)

	names := r.EnabledNames()
	require.Len(t, names, 1)
	require.Equal(t, "A", names[0])
}
