// Package warmup implements the Warm-up & Eviction Scheduler: a bounded,
// deduplicated FIFO of (endpoint_id, next_due_at) that periodically
// refreshes metadata, plus the LP-cache weekly staleness sweep (spec.md
// §4.8).
//
// Grounded on original_source/src/aggregator/src/warm.rs for the
// rotating-queue shape: dequeue due items, refresh, requeue at
// now + DAY_NS.
package warmup

import (
	"container/list"
	"context"
	"sync"

	"github.com/luxfi/geth/log"

	"github.com/luxfi/aggregator/internal/clock"
	"github.com/luxfi/aggregator/internal/domain"
	"github.com/luxfi/aggregator/internal/lpcache"
	"github.com/luxfi/aggregator/internal/metacache"
)

// MaxQueueSize bounds the scheduler queue (spec.md §4.8, §8 scenario 6).
const MaxQueueSize = 128

// TickBatchSize is the number of items processed per scheduler tick
// (spec.md §4.8).
const TickBatchSize = 3

type item struct {
	endpoint domain.EndpointID
	nextDue  int64
}

// Scheduler owns the warm-up queue and drives metadata refresh.
type Scheduler struct {
	clock clock.Clock
	meta  *metacache.Cache

	mu    sync.Mutex
	queue *list.List
	index map[domain.EndpointID]*list.Element
}

// New constructs an empty Scheduler.
func New(clk clock.Clock, meta *metacache.Cache) *Scheduler {
	return &Scheduler{
		clock: clk,
		meta:  meta,
		queue: list.New(),
		index: map[domain.EndpointID]*list.Element{},
	}
}

// Init seeds the queue from the union of known ledger and adapter
// endpoints, deduplicated by endpoint id, capped at MaxQueueSize. Running
// Init twice with the same input produces the same queue order (spec.md
// §8 scenario 6, "warm-up determinism").
func (s *Scheduler) Init(endpoints []domain.EndpointID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = list.New()
	s.index = map[domain.EndpointID]*list.Element{}

	now := s.clock.NowNanos()
	seen := map[domain.EndpointID]struct{}{}
	for _, id := range endpoints {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if len(s.index) >= MaxQueueSize {
			break
		}
		el := s.queue.PushBack(item{endpoint: id, nextDue: now})
		s.index[id] = el
	}
}

// Enqueue inserts or moves endpoint to the tail of the queue with the
// given next-due timestamp, deduplicating by endpoint id.
func (s *Scheduler) Enqueue(id domain.EndpointID, nextDue int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.index[id]; ok {
		s.queue.Remove(el)
		delete(s.index, id)
	}
	if len(s.index) >= MaxQueueSize {
		return
	}
	el := s.queue.PushBack(item{endpoint: id, nextDue: nextDue})
	s.index[id] = el
}

// Tick processes up to TickBatchSize items: due items are refreshed and
// requeued a day out; not-yet-due items are requeued unchanged (spec.md
// §4.8).
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.NowNanos()

	for i := 0; i < TickBatchSize; i++ {
		s.mu.Lock()
		front := s.queue.Front()
		if front == nil {
			s.mu.Unlock()
			return
		}
		it := front.Value.(item)
		s.queue.Remove(front)
		delete(s.index, it.endpoint)
		s.mu.Unlock()

		if now >= it.nextDue {
			if _, err := s.meta.Get(ctx, it.endpoint); err != nil {
				log.Debug("warm-up metadata refresh failed", "endpoint", it.endpoint, "err", err)
			}
			s.Enqueue(it.endpoint, now+clock.Day)
		} else {
			s.Enqueue(it.endpoint, it.nextDue)
		}
	}
}

// Len reports the current queue size, for the Metrics gauge.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// EvictionTimer drives the weekly LP-cache staleness sweep, separate from
// the metadata warm-up ticks (spec.md §4.8 "Eviction").
type EvictionTimer struct {
	lp *lpcache.Cache
}

// NewEvictionTimer constructs an EvictionTimer bound to an LP cache.
func NewEvictionTimer(lp *lpcache.Cache) *EvictionTimer {
	return &EvictionTimer{lp: lp}
}

// Fire runs one weekly sweep.
func (t *EvictionTimer) Fire() int {
	evicted := t.lp.EvictStale()
	if evicted > 0 {
		log.Info("LP cache eviction sweep", "evicted", evicted)
	}
	return evicted
}
