// Package usersettings is the per-user filter-set store (spec.md §3, §4).
//
// Grounded on original_source/src/aggregator/src/user_settings.rs (latest
// variant per spec.md §9) for the field shape: preferred_ledgers and
// preferred_dexes, both optional ("no filter" when absent), created on
// first write, replaced on write, removed on explicit delete.
package usersettings

import (
	"sync"

	"github.com/luxfi/aggregator/internal/domain"
)

// Store is the process-wide settings table.
type Store struct {
	mu       sync.RWMutex
	settings map[string]domain.UserSettings
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{settings: map[string]domain.UserSettings{}}
}

// Get returns user's settings, or the zero value (no filters) if unset.
func (s *Store) Get(user domain.UserID) domain.UserSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings[user.String()]
}

// Put replaces user's settings wholesale.
func (s *Store) Put(user domain.UserID, settings domain.UserSettings) {
	s.mu.Lock()
	s.settings[user.String()] = settings
	s.mu.Unlock()
}

// Delete removes user's settings entirely.
func (s *Store) Delete(user domain.UserID) {
	s.mu.Lock()
	delete(s.settings, user.String())
	s.mu.Unlock()
}

// StableEntry is the serialized shape of one user's settings.
type StableEntry struct {
	User             string
	PreferredLedgers []string
	HasLedgerFilter  bool
	PreferredDexes   []string
	HasDexFilter     bool
}

// Save serializes the store to its stable form.
func (s *Store) Save() []StableEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StableEntry, 0, len(s.settings))
	for user, set := range s.settings {
		se := StableEntry{User: user}
		if set.PreferredLedgers != nil {
			se.HasLedgerFilter = true
			for id := range *set.PreferredLedgers {
				se.PreferredLedgers = append(se.PreferredLedgers, string(id))
			}
		}
		if set.PreferredDexes != nil {
			se.HasDexFilter = true
			for name := range *set.PreferredDexes {
				se.PreferredDexes = append(se.PreferredDexes, string(name))
			}
		}
		out = append(out, se)
	}
	return out
}

// Restore repopulates the store from a stable snapshot.
func (s *Store) Restore(entries []StableEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = map[string]domain.UserSettings{}
	for _, se := range entries {
		var set domain.UserSettings
		if se.HasLedgerFilter {
			m := map[domain.EndpointID]struct{}{}
			for _, id := range se.PreferredLedgers {
				m[domain.EndpointID(id)] = struct{}{}
			}
			set.PreferredLedgers = &m
		}
		if se.HasDexFilter {
			m := map[domain.AdapterName]struct{}{}
			for _, name := range se.PreferredDexes {
				m[domain.AdapterName(name)] = struct{}{}
			}
			set.PreferredDexes = &m
		}
		s.settings[se.User] = set
	}
}
