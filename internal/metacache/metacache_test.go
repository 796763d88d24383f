package metacache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/aggregator/internal/clock"
	"github.com/luxfi/aggregator/internal/domain"
)

type fakeFetcher struct {
	calls int
	seq   []Metadata
	errs  []error
}

func (f *fakeFetcher) FetchMetadata(ctx context.Context, id domain.EndpointID) (Metadata, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return Metadata{}, f.errs[i]
	}
	if i < len(f.seq) {
		return f.seq[i], nil
	}
	return f.seq[len(f.seq)-1], nil
}

func TestGetMissFetches(t *testing.T) {
	mc := clock.NewMock(0)
	f := &fakeFetcher{seq: []Metadata{{Symbol: "ICP", Decimals: 8, Fee: "10000"}}}
	c := New(f, mc)

	md, err := c.Get(context.Background(), "ledger1")
	require.NoError(t, err)
	require.Equal(t, "ICP", md.Symbol)
	require.Equal(t, 1, f.calls)
}

func TestGetWithinTTLSkipsFetch(t *testing.T) {
	mc := clock.NewMock(0)
	f := &fakeFetcher{seq: []Metadata{{Symbol: "ICP", Decimals: 8}}}
	c := New(f, mc)

	_, err := c.Get(context.Background(), "ledger1")
	require.NoError(t, err)
	mc.Advance(clock.Hour)
	_, err = c.Get(context.Background(), "ledger1")
	require.NoError(t, err)

	require.Equal(t, 1, f.calls)
}

func TestGetAfterTTLRefetches(t *testing.T) {
	mc := clock.NewMock(0)
	f := &fakeFetcher{seq: []Metadata{{Symbol: "ICP", Decimals: 8}, {Symbol: "ICP", Decimals: 8}}}
	c := New(f, mc)

	_, err := c.Get(context.Background(), "ledger1")
	require.NoError(t, err)
	mc.Advance(TTL + 1)
	_, err = c.Get(context.Background(), "ledger1")
	require.NoError(t, err)

	require.Equal(t, 2, f.calls)
}

func TestGetSameContentAfterTTLKeepsHashAdvancesExpiry(t *testing.T) {
	mc := clock.NewMock(0)
	md := Metadata{Symbol: "ICP", Decimals: 8, Fee: "10000"}
	f := &fakeFetcher{seq: []Metadata{md, md}}
	c := New(f, mc)

	_, err := c.Get(context.Background(), "ledger1")
	require.NoError(t, err)
	mc.Advance(TTL + 1)
	got, err := c.Get(context.Background(), "ledger1")
	require.NoError(t, err)
	require.Equal(t, md, got)
}

func TestGetPropagatesPersistentFetchFailure(t *testing.T) {
	mc := clock.NewMock(0)
	wantErr := errors.New("unreachable")
	f := &fakeFetcher{errs: []error{wantErr, wantErr, wantErr}}
	c := New(f, mc)

	_, err := c.Get(context.Background(), "ledger1")
	require.Error(t, err)
	require.Equal(t, 0, entryCount(c))
}

func entryCount(c *Cache) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func TestInvalidateRemovesOneEntry(t *testing.T) {
	mc := clock.NewMock(0)
	f := &fakeFetcher{seq: []Metadata{{Symbol: "ICP"}}}
	c := New(f, mc)

	_, err := c.Get(context.Background(), "ledger1")
	require.NoError(t, err)
	c.Invalidate("ledger1")
	require.Equal(t, 0, entryCount(c))
}

func TestClearDropsEverything(t *testing.T) {
	mc := clock.NewMock(0)
	f := &fakeFetcher{seq: []Metadata{{Symbol: "ICP"}}}
	c := New(f, mc)

	_, err := c.Get(context.Background(), "ledger1")
	require.NoError(t, err)
	c.Clear()
	require.Equal(t, 0, entryCount(c))
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	mc := clock.NewMock(0)
	f := &fakeFetcher{seq: []Metadata{{Symbol: "ICP", Decimals: 8, Fee: "10000"}}}
	c := New(f, mc)
	_, err := c.Get(context.Background(), "ledger1")
	require.NoError(t, err)

	saved := c.Save()
	require.Len(t, saved, 1)

	restored := New(f, mc)
	restored.Restore(saved)

	got, err := restored.Get(context.Background(), "ledger1")
	require.NoError(t, err)
	require.Equal(t, "ICP", got.Symbol)
	require.Equal(t, 1, f.calls)
}

func TestRestoreDiscardsWrongLengthHash(t *testing.T) {
	c := New(&fakeFetcher{}, clock.NewMock(0))
	c.Restore([]StableEntry{{EndpointID: "ledger1", Hash: []byte{1, 2, 3}}})
	require.Equal(t, 0, entryCount(c))
}
