// Package domain holds the canonical data model shared across the engine:
// Holding, HoldingSummary, UserSettings, PoolMeta and the identifiers that
// key the caches (spec.md §3).
package domain

import (
	"strings"

	"github.com/luxfi/aggregator/internal/engineerr"
)

// Status is the closed set of Holding status values.
type Status string

const (
	StatusLiquid    Status = "liquid"
	StatusLocked8y  Status = "locked_8y"
	StatusLocked    Status = "locked"
	StatusDissolved Status = "dissolved"
	StatusLPEscrow  Status = "lp_escrow"
	StatusClaimable Status = "claimable"
	StatusPending   Status = "pending"
	StatusError     Status = "error"
	StatusUnknown   Status = "unknown"
)

// Holding is the canonical normalized row produced by every fetcher.
type Holding struct {
	Source string `json:"source"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
	Status Status `json:"status"`
}

// HoldingSummary is (token, total) derived by grouping Holdings by token.
type HoldingSummary struct {
	Token string  `json:"token"`
	Total float64 `json:"total"`
}

// TokenTotal is the external alias for get_summary's return element; same
// shape as HoldingSummary, kept distinct so the dispatcher boundary can
// evolve independently of the internal summary type.
type TokenTotal struct {
	Token string  `json:"token"`
	Total float64 `json:"total"`
}

// UserID is a validated caller/subject identity. Constructed only via
// ParseUserID, closing the gap SPEC_FULL.md's supplemented-features §4
// calls out: the distilled spec only mentions anonymous-identity rejection
// for the Claim Engine, but every cache keyed by user benefits from the
// same validation.
type UserID struct {
	text string
}

// AnonymousText is the textual form treated as "no identity" and rejected
// wherever a concrete user is required.
const AnonymousText = "anonymous"

// ErrAnonymous and ErrMalformedUser are returned by ParseUserID, typed as
// engineerr.KindNotFound so the HTTP boundary can map both to 404 without
// string-matching (spec.md §8, "/holdings/{bad-principal} returns 404").
var (
	ErrAnonymous     = engineerr.New(engineerr.KindNotFound, "identity is anonymous")
	ErrMalformedUser = engineerr.New(engineerr.KindNotFound, "identity is malformed")
)

// ParseUserID validates and wraps a raw identity string.
func ParseUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, ErrMalformedUser
	}
	if strings.EqualFold(trimmed, AnonymousText) {
		return UserID{}, ErrAnonymous
	}
	return UserID{text: trimmed}, nil
}

// String returns the validated textual identity. Safe to use as a cache key.
func (u UserID) String() string { return u.text }

// IsZero reports whether this UserID was never successfully parsed.
func (u UserID) IsZero() bool { return u.text == "" }

// EndpointID is an opaque identifier for an external service.
type EndpointID string

// AdapterName names a registered Adapter Registry entry.
type AdapterName string

// UserSettings holds per-user filters. A nil set means "no filter" per
// spec.md §3.
type UserSettings struct {
	PreferredLedgers *map[EndpointID]struct{}
	PreferredDexes   *map[AdapterName]struct{}
}

// PoolMeta describes a liquidity pool, loaded from the pool description
// file and refreshed periodically (spec.md §3, §4.9 NEW poolreg).
type PoolMeta struct {
	ID         string `json:"id"`
	TokenA     string `json:"token_a"`
	TokenB     string `json:"token_b"`
	DecimalsA  uint8  `json:"decimals_a"`
	DecimalsB  uint8  `json:"decimals_b"`
	ImageA     string `json:"image_a,omitempty"`
	ImageB     string `json:"image_b,omitempty"`
}

// Reward is a single claimable-rewards row an adapter can report before a
// claim is actually executed.
type Reward struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}
