package holdingscache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/aggregator/internal/clock"
	"github.com/luxfi/aggregator/internal/domain"
)

func mustUser(t *testing.T, raw string) domain.UserID {
	t.Helper()
	id, err := domain.ParseUserID(raw)
	require.NoError(t, err)
	return id
}

func TestFreshMissReturnsFalse(t *testing.T) {
	c := New(clock.NewMock(0))
	_, ok := c.Fresh(mustUser(t, "alice"))
	require.False(t, ok)
}

func TestFreshWithinWindowReturnsTrue(t *testing.T) {
	mc := clock.NewMock(0)
	c := New(mc)
	alice := mustUser(t, "alice")
	c.Put(alice, []domain.Holding{{Token: "ICP"}}, []domain.HoldingSummary{{Token: "ICP", Total: 1}})

	mc.Advance(FreshWindow - 1)
	e, ok := c.Fresh(alice)
	require.True(t, ok)
	require.Len(t, e.Holdings, 1)
}

func TestFreshAfterWindowReturnsFalse(t *testing.T) {
	mc := clock.NewMock(0)
	c := New(mc)
	alice := mustUser(t, "alice")
	c.Put(alice, []domain.Holding{{Token: "ICP"}}, nil)

	mc.Advance(FreshWindow)
	_, ok := c.Fresh(alice)
	require.False(t, ok)
}

func TestPutOverwritesPriorEntry(t *testing.T) {
	mc := clock.NewMock(0)
	c := New(mc)
	alice := mustUser(t, "alice")
	c.Put(alice, []domain.Holding{{Token: "A"}}, nil)
	c.Put(alice, []domain.Holding{{Token: "B"}}, nil)

	e, ok := c.Fresh(alice)
	require.True(t, ok)
	require.Len(t, e.Holdings, 1)
	require.Equal(t, "B", e.Holdings[0].Token)
}

func TestLenCountsDistinctUsers(t *testing.T) {
	c := New(clock.NewMock(0))
	c.Put(mustUser(t, "alice"), nil, nil)
	c.Put(mustUser(t, "bob"), nil, nil)
	c.Put(mustUser(t, "alice"), nil, nil)

	require.Equal(t, 2, c.Len())
}
