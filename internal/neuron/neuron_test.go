package neuron

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/aggregator/internal/domain"
)

type fakeClient struct {
	holdings []domain.Holding
	err      error
}

func (f *fakeClient) ListNeurons(ctx context.Context, user domain.UserID) ([]domain.Holding, error) {
	return f.holdings, f.err
}

func mustUser(t *testing.T, raw string) domain.UserID {
	t.Helper()
	id, err := domain.ParseUserID(raw)
	require.NoError(t, err)
	return id
}

func TestFetchAllStampsNeuronSource(t *testing.T) {
	f := New(&fakeClient{holdings: []domain.Holding{{Token: "GOV", Amount: "10", Status: domain.StatusLocked8y}}})

	got, err := f.FetchAll(context.Background(), mustUser(t, "alice"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "neuron", got[0].Source)
}

func TestFetchAllPropagatesError(t *testing.T) {
	wantErr := errors.New("source down")
	f := New(&fakeClient{err: wantErr})

	_, err := f.FetchAll(context.Background(), mustUser(t, "alice"))
	require.ErrorIs(t, err, wantErr)
}
