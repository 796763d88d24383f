// Package resources implements the Resource-Balance Maintainer: a
// heartbeat-driven, at-most-once-per-minute top-up of the process's own
// resource ("cycles") budget, with exponential backoff on failure
// (spec.md §4.9).
//
// Grounded on original_source/src/aggregator/src/cycles.rs for the
// rolling textual refill log. The backoff is computed directly
// (2^failures minutes, exponent capped at MaxBackoffExponent, then capped
// at the configured maximum); no backoff library is used here.
package resources

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/luxfi/geth/log"

	"github.com/luxfi/aggregator/internal/clock"
)

// MinCheckInterval is the "at most once per minute" cadence spec.md §4.9
// names.
const MinCheckInterval = clock.Minute

// MaxBackoffExponent saturates the backoff exponent at 6 (spec.md §4.9).
const MaxBackoffExponent = 6

// Source performs the actual top-up call. Its wire format is out of scope
// (spec.md §1).
type Source interface {
	Refill(ctx context.Context) (newBalance uint64, err error)
	Balance(ctx context.Context) (uint64, error)
}

// Maintainer owns the refill state machine and event log.
type Maintainer struct {
	clock  clock.Clock
	source Source
	sink   io.Writer

	minBalance        uint64
	maxBackoffMinutes int64

	mu          sync.Mutex
	checked     bool
	lastCheck   int64
	failures    int
	backoffUtil int64
	log         []string
}

// New constructs a Maintainer. source may be nil, meaning no top-up source
// is configured (spec.md §4.9: a missing source is a no-op, not an error).
func New(clk clock.Clock, source Source, minBalance uint64, maxBackoffMinutes int64) *Maintainer {
	return &Maintainer{clock: clk, source: source, minBalance: minBalance, maxBackoffMinutes: maxBackoffMinutes}
}

// SetSink attaches a rolling file sink (a *lumberjack.Logger in production)
// that every refill/failure log line is additionally written to, alongside
// the in-memory log kept for get_cycles_log and stable-state save/restore
// (spec.md §4.9, §4.10). nil disables the sink.
func (m *Maintainer) SetSink(sink io.Writer) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

func (m *Maintainer) appendLine(line string) {
	m.log = append(m.log, line)
	if m.sink != nil {
		if _, err := io.WriteString(m.sink, line+"\n"); err != nil {
			log.Warn("failed to write cycles log line", "err", err)
		}
	}
}

// Heartbeat is invoked on every heartbeat tick. It is a no-op unless at
// least MinCheckInterval has elapsed since the last check and any prior
// backoff has expired.
func (m *Maintainer) Heartbeat(ctx context.Context) {
	now := m.clock.NowNanos()

	m.mu.Lock()
	if (m.checked && now-m.lastCheck < MinCheckInterval) || now < m.backoffUtil {
		m.mu.Unlock()
		return
	}
	m.lastCheck = now
	m.checked = true
	m.mu.Unlock()

	if m.source == nil {
		return
	}

	balance, err := m.source.Balance(ctx)
	if err != nil {
		m.recordFailure(now, fmt.Sprintf("balance check failed: %v", err))
		return
	}
	if balance >= m.minBalance {
		return
	}

	newBalance, err := m.source.Refill(ctx)
	if err != nil || newBalance <= balance {
		detail := "refill did not increase balance"
		if err != nil {
			detail = err.Error()
		}
		m.recordFailure(now, detail)
		return
	}

	m.mu.Lock()
	m.failures = 0
	m.backoffUtil = 0
	m.appendLine(fmt.Sprintf("t=%d refill succeeded: %d -> %d", now, balance, newBalance))
	m.mu.Unlock()
	log.Info("resource balance refilled", "from", balance, "to", newBalance)
}

func (m *Maintainer) recordFailure(now int64, detail string) {
	m.mu.Lock()
	m.failures++
	exp := m.failures
	if exp > MaxBackoffExponent {
		exp = MaxBackoffExponent
	}
	backoffMinutes := int64(1) << uint(exp)
	if backoffMinutes > m.maxBackoffMinutes {
		backoffMinutes = m.maxBackoffMinutes
	}
	m.backoffUtil = now + backoffMinutes*clock.Minute
	m.appendLine(fmt.Sprintf("t=%d refill failed: %s (backoff %dm)", now, detail, backoffMinutes))
	m.mu.Unlock()
	log.Warn("resource refill failed", "detail", detail, "backoff_minutes", backoffMinutes)
}

// Events returns the rolling refill log for stable save and the
// get_cycles_log operation.
func (m *Maintainer) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.log))
	copy(out, m.log)
	return out
}

// Restore repopulates the event log from a stable snapshot (spec.md
// §4.10).
func (m *Maintainer) Restore(events []string) {
	m.mu.Lock()
	m.log = append([]string{}, events...)
	m.mu.Unlock()
}
