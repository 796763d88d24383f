package usersettings

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/aggregator/internal/domain"
)

func mustUser(t *testing.T, raw string) domain.UserID {
	t.Helper()
	id, err := domain.ParseUserID(raw)
	require.NoError(t, err)
	return id
}

func TestGetUnsetReturnsZeroValue(t *testing.T) {
	s := NewStore()
	got := s.Get(mustUser(t, "alice"))
	require.Nil(t, got.PreferredLedgers)
	require.Nil(t, got.PreferredDexes)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := NewStore()
	alice := mustUser(t, "alice")
	ledgers := map[domain.EndpointID]struct{}{"ledger1": {}}

	s.Put(alice, domain.UserSettings{PreferredLedgers: &ledgers})

	got := s.Get(alice)
	require.NotNil(t, got.PreferredLedgers)
	_, ok := (*got.PreferredLedgers)["ledger1"]
	require.True(t, ok)
}

func TestDeleteRemovesSettings(t *testing.T) {
	s := NewStore()
	alice := mustUser(t, "alice")
	ledgers := map[domain.EndpointID]struct{}{"ledger1": {}}
	s.Put(alice, domain.UserSettings{PreferredLedgers: &ledgers})

	s.Delete(alice)

	got := s.Get(alice)
	require.Nil(t, got.PreferredLedgers)
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	alice := mustUser(t, "alice")
	ledgers := map[domain.EndpointID]struct{}{"ledger1": {}, "ledger2": {}}
	dexes := map[domain.AdapterName]struct{}{"sonic": {}}
	s.Put(alice, domain.UserSettings{PreferredLedgers: &ledgers, PreferredDexes: &dexes})

	saved := s.Save()
	require.Len(t, saved, 1)

	restored := NewStore()
	restored.Restore(saved)

	got := restored.Get(alice)
	require.NotNil(t, got.PreferredLedgers)
	require.Len(t, *got.PreferredLedgers, 2)
	require.NotNil(t, got.PreferredDexes)
	require.Len(t, *got.PreferredDexes, 1)
}

func TestSaveOmitsUnsetFilters(t *testing.T) {
	s := NewStore()
	s.Put(mustUser(t, "bob"), domain.UserSettings{})

	saved := s.Save()
	require.Len(t, saved, 1)
	require.False(t, saved[0].HasLedgerFilter)
	require.False(t, saved[0].HasDexFilter)
}
