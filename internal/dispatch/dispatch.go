// Package dispatch implements the Request Dispatcher boundary: caller
// authentication, per-call cost charging, and routing to the
// aggregation/claim/metrics operations named in spec.md §6's binary
// operation interface.
//
// Modeled on plugin/evm/admin_api.go's method-per-RPC-call shape (one
// exported method per operation, context first, typed result/error),
// narrowed to this service's operation set and fronted by a per-caller
// cycles ledger instead of the teacher's vmLock.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/geth/log"
	"golang.org/x/time/rate"

	"github.com/luxfi/aggregator/internal/cert"
	"github.com/luxfi/aggregator/internal/claim"
	"github.com/luxfi/aggregator/internal/domain"
	"github.com/luxfi/aggregator/internal/engine"
	"github.com/luxfi/aggregator/internal/engineerr"
	"github.com/luxfi/aggregator/internal/metrics"
	"github.com/luxfi/aggregator/internal/poolreg"
	"github.com/luxfi/aggregator/internal/resources"
	"github.com/luxfi/aggregator/internal/usersettings"
)

// DefaultCallsPerSecond and DefaultBurst bound how fast a single caller
// can spend their cycles balance, independent of how well-funded they
// are (spec.md §6's "per-call cost" only charges cycles; this adds the
// call-price/rate shaping SPEC_FULL.md's domain stack calls for).
const (
	DefaultCallsPerSecond = 5
	DefaultBurst          = 10
)

// limiters hands out one token-bucket limiter per caller, created lazily.
type limiters struct {
	mu    sync.Mutex
	byKey map[string]*rate.Limiter
	r     rate.Limit
	burst int
}

func newLimiters(callsPerSecond float64, burst int) *limiters {
	return &limiters{byKey: map[string]*rate.Limiter{}, r: rate.Limit(callsPerSecond), burst: burst}
}

func (l *limiters) allow(caller domain.UserID) bool {
	l.mu.Lock()
	lim, ok := l.byKey[caller.String()]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.byKey[caller.String()] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Prices holds the call-price-in-cycles schedule (spec.md §6, env vars
// CALL_PRICE_CYCLES / CLAIM_PRICE_CYCLES).
type Prices struct {
	Call  uint64
	Claim uint64
}

// VersionInfo answers get_version.
type VersionInfo struct {
	GitSHA    string
	BuildTime string
}

// HoldingsCert is the get_holdings_cert response shape.
type HoldingsCert struct {
	Holdings         []domain.Holding
	CertificateBytes []byte
	WitnessBytes     []byte
}

// ledger is a per-caller prepaid cycles balance. The wire-level payment
// mechanism is out of scope (spec.md §1); this dispatcher only enforces
// "has the caller pre-funded enough to cover this call's price".
type ledger struct {
	mu      sync.Mutex
	balance map[string]uint64
}

func newLedger() *ledger {
	return &ledger{balance: map[string]uint64{}}
}

func (l *ledger) charge(caller domain.UserID, price uint64) error {
	if price == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	have := l.balance[caller.String()]
	if have < price {
		return engineerr.New(engineerr.KindInsufficient, fmt.Sprintf("sent %d, required %d", have, price))
	}
	l.balance[caller.String()] -= price
	return nil
}

// Credit tops up a caller's prepaid balance. It is reached only through
// Dispatcher.CreditCaller; no HTTP route or CLI flag calls it, and the
// actual funding transport is out of scope.
func (l *ledger) Credit(caller domain.UserID, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance[caller.String()] += amount
}

// Dispatcher is the single entry point every transport (binary, HTTP,
// GraphQL) calls through.
type Dispatcher struct {
	Engine    *engine.Engine
	Claim     *claim.Engine
	Settings  *usersettings.Store
	Cert      *cert.Store
	Metrics   *metrics.Registry
	Resources *resources.Maintainer
	Pools     *poolreg.Registry
	Prices    Prices
	Version   VersionInfo

	cycles *ledger
	shaper *limiters
}

// New constructs a Dispatcher wired to its collaborators. pools may be nil
// if the pool registry is not in use; PoolsGraphQL then returns an empty set.
func New(eng *engine.Engine, claimEng *claim.Engine, settings *usersettings.Store, certStore *cert.Store, metricsReg *metrics.Registry, res *resources.Maintainer, pools *poolreg.Registry, prices Prices, version VersionInfo) *Dispatcher {
	return &Dispatcher{
		Engine:    eng,
		Claim:     claimEng,
		Settings:  settings,
		Cert:      certStore,
		Metrics:   metricsReg,
		Resources: res,
		Pools:     pools,
		Prices:    prices,
		Version:   version,
		cycles:    newLedger(),
		shaper:    newLimiters(DefaultCallsPerSecond, DefaultBurst),
	}
}

// CreditCaller funds caller's prepaid cycles balance for subsequent calls.
func (d *Dispatcher) CreditCaller(caller domain.UserID, amount uint64) {
	d.cycles.Credit(caller, amount)
}

func (d *Dispatcher) chargeCall(caller domain.UserID) error {
	if !d.shaper.allow(caller) {
		return engineerr.New(engineerr.KindRateLimit, "call rate exceeded")
	}
	return d.cycles.charge(caller, d.Prices.Call)
}

func (d *Dispatcher) chargeClaim(caller domain.UserID) error {
	if !d.shaper.allow(caller) {
		return engineerr.New(engineerr.KindRateLimit, "call rate exceeded")
	}
	return d.cycles.charge(caller, d.Prices.Claim)
}

// GetHoldings implements get_holdings(user) -> list<Holding> | Error.
func (d *Dispatcher) GetHoldings(ctx context.Context, caller domain.UserID) ([]domain.Holding, error) {
	if err := d.chargeCall(caller); err != nil {
		return nil, err
	}
	d.Metrics.IncQuery()
	return d.Engine.GetHoldings(ctx, caller)
}

// GetHoldingsFiltered implements get_holdings_filtered.
func (d *Dispatcher) GetHoldingsFiltered(ctx context.Context, caller domain.UserID, ledgers, dexes []string) ([]domain.Holding, error) {
	if err := d.chargeCall(caller); err != nil {
		return nil, err
	}
	d.Metrics.IncQuery()
	return d.Engine.GetHoldingsFiltered(ctx, caller, ledgers, dexes)
}

// RefreshHoldings implements refresh_holdings.
func (d *Dispatcher) RefreshHoldings(ctx context.Context, caller domain.UserID) error {
	if err := d.chargeCall(caller); err != nil {
		return err
	}
	d.Metrics.IncQuery()
	return d.Engine.RefreshHoldings(ctx, caller)
}

// GetHoldingsSummary implements get_holdings_summary.
func (d *Dispatcher) GetHoldingsSummary(ctx context.Context, caller domain.UserID) ([]domain.HoldingSummary, error) {
	if err := d.chargeCall(caller); err != nil {
		return nil, err
	}
	d.Metrics.IncQuery()
	return d.Engine.GetHoldingsSummary(ctx, caller)
}

// GetSummary is an alias spec.md §6 lists alongside get_holdings_summary
// for the flattened per-token total view (get_summary).
func (d *Dispatcher) GetSummary(ctx context.Context, caller domain.UserID) ([]domain.TokenTotal, error) {
	sm, err := d.GetHoldingsSummary(ctx, caller)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TokenTotal, 0, len(sm))
	for _, s := range sm {
		out = append(out, domain.TokenTotal{Token: s.Token, Total: s.Total})
	}
	return out, nil
}

// GetHoldingsCert implements get_holdings_cert.
func (d *Dispatcher) GetHoldingsCert(ctx context.Context, caller domain.UserID) (HoldingsCert, error) {
	if err := d.chargeCall(caller); err != nil {
		return HoldingsCert{}, err
	}
	d.Metrics.IncQuery()

	holdings, err := d.Engine.GetHoldings(ctx, caller)
	if err != nil {
		return HoldingsCert{}, err
	}
	witness, root, ok := d.Cert.Get(caller)
	if !ok {
		witness, root = d.Cert.Update(caller, holdings)
	}
	return HoldingsCert{Holdings: holdings, CertificateBytes: root[:], WitnessBytes: witness[:]}, nil
}

// ClaimAllRewards implements claim_all_rewards(user) -> list<amount>.
func (d *Dispatcher) ClaimAllRewards(ctx context.Context, caller, target domain.UserID) ([]string, error) {
	if err := d.chargeClaim(caller); err != nil {
		return nil, err
	}
	d.Metrics.IncClaimAttempt()
	log.Info("claim_all_rewards", "caller", caller, "target", target)
	amounts, err := d.Claim.ClaimAllRewards(ctx, caller, target)
	if err != nil {
		log.Warn("claim_all_rewards failed", "caller", caller, "target", target, "err", err)
		return nil, err
	}
	d.Metrics.IncClaimSuccess()
	return amounts, nil
}

// GetClaimStatus implements get_claim_status.
func (d *Dispatcher) GetClaimStatus(caller domain.UserID) claim.Status {
	return d.Claim.Status(caller)
}

// GetUserSettings implements get_user_settings.
func (d *Dispatcher) GetUserSettings(caller domain.UserID) domain.UserSettings {
	return d.Settings.Get(caller)
}

// UpdateUserSettings implements update_user_settings. Caller identity must
// equal user (spec.md §6); anything else is Unauthorized.
func (d *Dispatcher) UpdateUserSettings(caller, user domain.UserID, settings domain.UserSettings) error {
	if caller.String() != user.String() {
		return engineerr.New(engineerr.KindUnauthorized, "caller does not match target user")
	}
	d.Settings.Put(user, settings)
	return nil
}

// GetMetrics implements get_metrics.
func (d *Dispatcher) GetMetrics() metrics.Snapshot {
	return d.Metrics.Snapshot()
}

// GetCyclesLog implements get_cycles_log.
func (d *Dispatcher) GetCyclesLog() []string {
	if d.Resources == nil {
		return []string{}
	}
	return d.Resources.Events()
}

// GetVersion implements get_version.
func (d *Dispatcher) GetVersion() VersionInfo {
	return d.Version
}

// HealthCheck implements health_check.
func (d *Dispatcher) HealthCheck() string {
	return "ok"
}

// PoolsGraphQL implements pools_graphql. It takes no query argument and
// returns the full pool registry as a slice sorted by pool ID; encoding it
// (the /graphql handler serves it as the "pools" field) is left to the
// caller.
func (d *Dispatcher) PoolsGraphQL() []domain.PoolMeta {
	if d.Pools == nil {
		return []domain.PoolMeta{}
	}
	all := d.Pools.All()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// Heartbeat drives the resource-balance maintainer; invoked by the
// service's heartbeat tick (spec.md §2).
func (d *Dispatcher) Heartbeat(ctx context.Context) {
	if d.Resources == nil {
		return
	}
	d.Metrics.IncHeartbeat()
	d.Resources.Heartbeat(ctx)
}
