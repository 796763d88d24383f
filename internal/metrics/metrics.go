// Package metrics holds the service's monotonic counters and gauges, with
// stable save/restore (spec.md §3, §4).
//
// Directly adapted from metrics/prometheus/prometheus.go's Gatherer
// pattern in the teacher (github.com/luxfi/evm), narrowed to the fixed
// counter/gauge set spec.md names, using
// github.com/prometheus/client_golang (a teacher direct require) instead
// of the teacher's luxfi/geth/metrics + luxfi/metric bridge — this module
// has no luxfi/geth metrics.Registry to bridge from, so prometheus's own
// CounterFunc/GaugeFunc types serve the role directly over plain atomic
// counters, which also makes the stable round-trip property (spec.md §8)
// trivial to implement (prometheus.Counter itself exposes no value
// getter).
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is the externally visible metrics read (get_metrics), matching
// spec.md §3's "Metrics snapshot" shape and, per SPEC_FULL.md's
// supplemented-features item 5, the flat-tuple layout of
// original_source/src/aggregator/src/metrics.rs.
type Snapshot struct {
	QueryCount             uint64
	HeartbeatCount         uint64
	ClaimAttempts          uint64
	ClaimSuccesses         uint64
	RefillAttempts         uint64
	RefillSuccesses        uint64
	ResourcesCollected     uint64
	HoldingsCacheSize      int64
	LPCacheSize            int64
	CurrentResourceBalance uint64
	LastHeartbeatTs        int64
}

// Registry owns every counter/gauge this service exposes, registered
// against a private prometheus.Registry so /metrics serves exactly this
// set (spec.md §6).
type Registry struct {
	reg *prometheus.Registry

	query              uint64
	heartbeat          uint64
	claimAttempts      uint64
	claimSuccesses     uint64
	refillAttempts     uint64
	refillSuccesses    uint64
	resourcesCollected uint64

	holdingsCacheSize int64
	lpCacheSize       int64
	resourceBalance   uint64
	lastHeartbeatTs   int64
}

// NewRegistry constructs and registers every metric.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	counter := func(name string, val *uint64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name}, func() float64 {
			return float64(atomic.LoadUint64(val))
		})
	}
	gauge64 := func(name string, val *int64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name}, func() float64 {
			return float64(atomic.LoadInt64(val))
		})
	}
	gaugeU64 := func(name string, val *uint64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name}, func() float64 {
			return float64(atomic.LoadUint64(val))
		})
	}

	r.reg.MustRegister(
		counter("aggregator_query_total", &r.query),
		counter("aggregator_heartbeat_total", &r.heartbeat),
		counter("aggregator_claim_attempts_total", &r.claimAttempts),
		counter("aggregator_claim_successes_total", &r.claimSuccesses),
		counter("aggregator_refill_attempts_total", &r.refillAttempts),
		counter("aggregator_refill_successes_total", &r.refillSuccesses),
		counter("aggregator_resources_collected_total", &r.resourcesCollected),
		gauge64("aggregator_holdings_cache_size", &r.holdingsCacheSize),
		gauge64("aggregator_lp_cache_size", &r.lpCacheSize),
		gaugeU64("aggregator_resource_balance", &r.resourceBalance),
		gauge64("aggregator_last_heartbeat_timestamp", &r.lastHeartbeatTs),
	)

	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for the /metrics
// HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) IncQuery()         { atomic.AddUint64(&r.query, 1) }
func (r *Registry) IncHeartbeat()     { atomic.AddUint64(&r.heartbeat, 1) }
func (r *Registry) IncClaimAttempt()  { atomic.AddUint64(&r.claimAttempts, 1) }
func (r *Registry) IncClaimSuccess()  { atomic.AddUint64(&r.claimSuccesses, 1) }
func (r *Registry) IncRefillAttempt() { atomic.AddUint64(&r.refillAttempts, 1) }
func (r *Registry) IncRefillSuccess() { atomic.AddUint64(&r.refillSuccesses, 1) }
func (r *Registry) AddResourcesCollected(n uint64) {
	atomic.AddUint64(&r.resourcesCollected, n)
}

func (r *Registry) SetHoldingsCacheSize(n int64) { atomic.StoreInt64(&r.holdingsCacheSize, n) }
func (r *Registry) SetLPCacheSize(n int64)       { atomic.StoreInt64(&r.lpCacheSize, n) }
func (r *Registry) SetResourceBalance(n uint64)  { atomic.StoreUint64(&r.resourceBalance, n) }
func (r *Registry) SetLastHeartbeat(ts int64)    { atomic.StoreInt64(&r.lastHeartbeatTs, ts) }

// Snapshot captures every counter/gauge for get_metrics and stable save.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		QueryCount:             atomic.LoadUint64(&r.query),
		HeartbeatCount:         atomic.LoadUint64(&r.heartbeat),
		ClaimAttempts:          atomic.LoadUint64(&r.claimAttempts),
		ClaimSuccesses:         atomic.LoadUint64(&r.claimSuccesses),
		RefillAttempts:         atomic.LoadUint64(&r.refillAttempts),
		RefillSuccesses:        atomic.LoadUint64(&r.refillSuccesses),
		ResourcesCollected:     atomic.LoadUint64(&r.resourcesCollected),
		HoldingsCacheSize:      atomic.LoadInt64(&r.holdingsCacheSize),
		LPCacheSize:            atomic.LoadInt64(&r.lpCacheSize),
		CurrentResourceBalance: atomic.LoadUint64(&r.resourceBalance),
		LastHeartbeatTs:        atomic.LoadInt64(&r.lastHeartbeatTs),
	}
}

// Restore repopulates every counter/gauge from a stable snapshot
// (spec.md §4.10, §8 "Stable round-trip").
func (r *Registry) Restore(s Snapshot) {
	atomic.StoreUint64(&r.query, s.QueryCount)
	atomic.StoreUint64(&r.heartbeat, s.HeartbeatCount)
	atomic.StoreUint64(&r.claimAttempts, s.ClaimAttempts)
	atomic.StoreUint64(&r.claimSuccesses, s.ClaimSuccesses)
	atomic.StoreUint64(&r.refillAttempts, s.RefillAttempts)
	atomic.StoreUint64(&r.refillSuccesses, s.RefillSuccesses)
	atomic.StoreUint64(&r.resourcesCollected, s.ResourcesCollected)
	atomic.StoreInt64(&r.holdingsCacheSize, s.HoldingsCacheSize)
	atomic.StoreInt64(&r.lpCacheSize, s.LPCacheSize)
	atomic.StoreUint64(&r.resourceBalance, s.CurrentResourceBalance)
	atomic.StoreInt64(&r.lastHeartbeatTs, s.LastHeartbeatTs)
}
