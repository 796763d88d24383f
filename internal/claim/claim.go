// Package claim implements the Claim Engine state machine: cooldown,
// daily window, reentrancy lock, per-adapter timeout, and total-amount cap
// (spec.md §4.7).
//
// Grounded on the sharded mutex-guarded map in
// other_examples/.../rate_limiter.go (package "improved"), adapted from
// token-bucket-per-client to gate-state-per-user, and on
// original_source/src/aggregator/src/lib.rs (latest variant, per
// spec.md §9) for the exact gate evaluation order: cooldown, then daily
// window, then reentrancy.
package claim

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/geth/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/aggregator/internal/adapter"
	"github.com/luxfi/aggregator/internal/clock"
	"github.com/luxfi/aggregator/internal/domain"
	"github.com/luxfi/aggregator/internal/engineerr"
)

// Defaults mirror spec.md §4.7.
const (
	DefaultDailyLimit       = 5
	DefaultLimitWindow      = 24 * clock.Hour
	DefaultLockTimeout      = 300 * clock.Second
	DefaultCooldown         = 60 * clock.Second
	DefaultAdapterTimeout   = 10 * time.Second
	DefaultMaxClaimPerCall  = 0 // 0 means "no truncation"
)

// State is the per-user claim gate state (spec.md §3).
type State struct {
	AttemptsInWindow int
	WindowExpiresAt  int64
	LockedUntil      int64
	CooldownExpires  int64
}

// Status is the externally visible claim status (get_claim_status).
type Status struct {
	Attempts      int
	WindowExpires int64
	Locked        bool
}

// Decision is the precise gate outcome try_enter returns, keeping the
// §4.7 ordering testable in isolation (spec.md §9 design note).
type Decision int

const (
	DecisionEnter Decision = iota
	DecisionCooldown
	DecisionRateLimit
	DecisionInProgress
)

// Config holds the tunables spec.md §6 exposes as environment variables.
type Config struct {
	DailyLimit      int
	LimitWindow     int64
	LockTimeout     int64
	Cooldown        int64
	AdapterTimeout  time.Duration
	MaxClaimPerCall int
	MaxTotal        decimal.Decimal

	Wallets  map[string]struct{} // claim-wallet allow-list
	Denylist map[string]struct{}
}

// DefaultConfig returns spec.md §4.7's default tunables with no allow-list
// or deny-list.
func DefaultConfig() Config {
	return Config{
		DailyLimit:     DefaultDailyLimit,
		LimitWindow:    DefaultLimitWindow,
		LockTimeout:    DefaultLockTimeout,
		Cooldown:       DefaultCooldown,
		AdapterTimeout: DefaultAdapterTimeout,
		MaxTotal:       decimal.Zero,
		Wallets:        map[string]struct{}{},
		Denylist:       map[string]struct{}{},
	}
}

// gateState is the mutex-guarded per-user bucket, one shard of many.
type gateState struct {
	mu    sync.Mutex
	users map[string]*State
}

const shardCount = 64

// Engine is the Claim Engine: authorisation, gating, and adapter
// execution.
type Engine struct {
	cfg      Config
	clock    clock.Clock
	adapters *adapter.Registry

	shards [shardCount]*gateState
}

// New constructs an Engine.
func New(cfg Config, clk clock.Clock, adapters *adapter.Registry) *Engine {
	e := &Engine{cfg: cfg, clock: clk, adapters: adapters}
	for i := range e.shards {
		e.shards[i] = &gateState{users: map[string]*State{}}
	}
	return e
}

func (e *Engine) shardFor(user string) *gateState {
	return e.shards[fnv32(user)%shardCount]
}

// Authorize enforces spec.md §4.7's authorisation rule: caller must equal
// target user or be on the claim-wallet allow-list; anonymous identities
// and denylisted users are rejected.
func (e *Engine) Authorize(caller, target domain.UserID) error {
	if caller.IsZero() {
		return engineerr.New(engineerr.KindUnauthorized, "anonymous caller")
	}
	if _, denied := e.cfg.Denylist[target.String()]; denied {
		return engineerr.New(engineerr.KindDenied, target.String())
	}
	if caller.String() == target.String() {
		return nil
	}
	if _, allowed := e.cfg.Wallets[caller.String()]; allowed {
		return nil
	}
	return engineerr.New(engineerr.KindUnauthorized, "caller is not target and not on claim-wallet allow-list")
}

// tryEnter evaluates the three gates in order, and on pass sets lock,
// bumps attempts, and advances cooldown (spec.md §4.7).
func (e *Engine) tryEnter(user domain.UserID) (Decision, *State) {
	now := e.clock.NowNanos()
	sh := e.shardFor(user.String())

	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.users[user.String()]
	if !ok {
		st = &State{}
		sh.users[user.String()] = st
	}

	if now < st.CooldownExpires {
		return DecisionCooldown, st
	}

	if now >= st.WindowExpiresAt {
		st.AttemptsInWindow = 0
		st.WindowExpiresAt = now + e.cfg.LimitWindow
	}
	if st.AttemptsInWindow >= e.cfg.DailyLimit {
		return DecisionRateLimit, st
	}

	if now < st.LockedUntil {
		return DecisionInProgress, st
	}

	st.LockedUntil = now + e.cfg.LockTimeout
	st.AttemptsInWindow++
	st.CooldownExpires = now + e.cfg.Cooldown

	return DecisionEnter, st
}

func (e *Engine) release(user domain.UserID) {
	sh := e.shardFor(user.String())
	sh.mu.Lock()
	if st, ok := sh.users[user.String()]; ok {
		st.LockedUntil = 0
	}
	sh.mu.Unlock()
}

// ClaimAllRewards runs the claim execution loop over the adapter registry,
// gated by tryEnter, always releasing the lock on exit (spec.md §4.7).
func (e *Engine) ClaimAllRewards(ctx context.Context, caller, target domain.UserID) ([]string, error) {
	if err := e.Authorize(caller, target); err != nil {
		return nil, err
	}

	decision, _ := e.tryEnter(target)
	switch decision {
	case DecisionCooldown:
		return nil, engineerr.New(engineerr.KindCooldown, "")
	case DecisionRateLimit:
		return nil, engineerr.New(engineerr.KindRateLimit, "")
	case DecisionInProgress:
		return nil, engineerr.New(engineerr.KindInProgress, "")
	}
	defer e.release(target)

	entries := e.adapters.All()
	if e.cfg.MaxClaimPerCall > 0 && len(entries) > e.cfg.MaxClaimPerCall {
		entries = entries[:e.cfg.MaxClaimPerCall]
	}

	total := decimal.Zero
	results := make([]string, 0, len(entries))

	for _, entry := range entries {
		claimCtx, cancel := context.WithTimeout(ctx, e.cfg.AdapterTimeout)
		spent, err := entry.Adapter.ClaimRewards(claimCtx, target)
		cancel()
		if err != nil {
			log.Debug("claim adapter failed, callers retry", "adapter", entry.Name, "err", err)
			continue
		}

		amt, perr := decimal.NewFromString(spent)
		if perr != nil {
			continue
		}

		next := total.Add(amt)
		if !e.cfg.MaxTotal.IsZero() && next.GreaterThan(e.cfg.MaxTotal) {
			return nil, engineerr.New(engineerr.KindCapExceeded, "single step would exceed CLAIM_MAX_TOTAL")
		}

		total = next
		results = append(results, spent)

		if !e.cfg.MaxTotal.IsZero() && total.GreaterThanOrEqual(e.cfg.MaxTotal) {
			break
		}
	}

	return results, nil
}

// Status returns the externally visible claim state for user
// (get_claim_status).
func (e *Engine) Status(user domain.UserID) Status {
	now := e.clock.NowNanos()
	sh := e.shardFor(user.String())

	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.users[user.String()]
	if !ok {
		return Status{}
	}
	return Status{
		Attempts:      st.AttemptsInWindow,
		WindowExpires: st.WindowExpiresAt,
		Locked:        now < st.LockedUntil,
	}
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
