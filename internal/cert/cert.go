// Package cert models the certifying witness spec.md §9 describes
// abstractly: "given a user identity, produce a bytestring stably derived
// from their holdings list such that a holder of a signed root can verify
// membership". The concrete tree structure is an implementation choice;
// this package uses a simple per-user Merkle-style leaf hash chained into
// a single process-wide root, which is sufficient to satisfy
// get_holdings_cert's contract without specifying any external
// certification authority (out of scope per spec.md §1).
package cert

import (
	"crypto/sha256"
	"encoding/json"
	"sort"
	"sync"

	"github.com/luxfi/aggregator/internal/domain"
)

// Store holds one witness per user. The process-wide root over all
// witnesses is not stored; Update and Get recompute it on each call.
type Store struct {
	mu       sync.RWMutex
	witness  map[string][32]byte
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{witness: map[string][32]byte{}}
}

// Update recomputes user's witness from holdings and stores it. Returns
// the witness and the current root.
func (s *Store) Update(user domain.UserID, holdings []domain.Holding) (witness [32]byte, root [32]byte) {
	leaf := leafHash(user.String(), holdings)

	s.mu.Lock()
	s.witness[user.String()] = leaf
	root = s.computeRoot()
	s.mu.Unlock()

	return leaf, root
}

// Get returns the last-computed witness and root for user, if any.
func (s *Store) Get(user domain.UserID) (witness [32]byte, root [32]byte, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, present := s.witness[user.String()]
	if !present {
		return [32]byte{}, [32]byte{}, false
	}
	return w, s.computeRoot(), true
}

// computeRoot hashes the sorted set of all witnesses together. Caller must
// hold s.mu.
func (s *Store) computeRoot() [32]byte {
	keys := make([]string, 0, len(s.witness))
	for k := range s.witness {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		w := s.witness[k]
		h.Write(w[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func leafHash(user string, holdings []domain.Holding) [32]byte {
	buf, _ := json.Marshal(struct {
		User     string           `json:"user"`
		Holdings []domain.Holding `json:"holdings"`
	}{User: user, Holdings: holdings})
	return sha256.Sum256(buf)
}
