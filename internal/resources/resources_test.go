package resources

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/aggregator/internal/clock"
)

type fakeSource struct {
	balances  []uint64
	balanceI  int
	refillTo  uint64
	refillErr error
}

func (f *fakeSource) Balance(ctx context.Context) (uint64, error) {
	i := f.balanceI
	f.balanceI++
	if i < len(f.balances) {
		return f.balances[i], nil
	}
	return f.balances[len(f.balances)-1], nil
}

func (f *fakeSource) Refill(ctx context.Context) (uint64, error) {
	if f.refillErr != nil {
		return 0, f.refillErr
	}
	return f.refillTo, nil
}

func TestHeartbeatNoopWithNilSource(t *testing.T) {
	m := New(clock.NewMock(0), nil, 100, 60)
	m.Heartbeat(context.Background())
	require.Empty(t, m.Events())
}

func TestHeartbeatSkipsWhenBalanceSufficient(t *testing.T) {
	mc := clock.NewMock(0)
	src := &fakeSource{balances: []uint64{200}}
	m := New(mc, src, 100, 60)

	m.Heartbeat(context.Background())
	require.Empty(t, m.Events())
}

func TestHeartbeatRefillsWhenBelowMinimum(t *testing.T) {
	mc := clock.NewMock(0)
	src := &fakeSource{balances: []uint64{50}, refillTo: 500}
	m := New(mc, src, 100, 60)

	m.Heartbeat(context.Background())
	events := m.Events()
	require.Len(t, events, 1)
	require.Contains(t, events[0], "refill succeeded")
}

func TestHeartbeatRespectsMinCheckInterval(t *testing.T) {
	mc := clock.NewMock(0)
	src := &fakeSource{balances: []uint64{50}, refillTo: 500}
	m := New(mc, src, 100, 60)

	m.Heartbeat(context.Background())
	mc.Advance(1)
	m.Heartbeat(context.Background())

	require.Len(t, m.Events(), 1)
}

func TestHeartbeatRecordsFailureAndBacksOff(t *testing.T) {
	mc := clock.NewMock(0)
	src := &fakeSource{balances: []uint64{50}, refillErr: errors.New("source unavailable")}
	m := New(mc, src, 100, 60)

	m.Heartbeat(context.Background())
	events := m.Events()
	require.Len(t, events, 1)
	require.Contains(t, events[0], "refill failed")

	mc.Advance(MinCheckInterval)
	m.Heartbeat(context.Background())
	require.Len(t, m.Events(), 1, "still within backoff window, should not retry yet")
}

func TestHeartbeatWritesEventsToSink(t *testing.T) {
	mc := clock.NewMock(0)
	src := &fakeSource{balances: []uint64{50}, refillTo: 500}
	m := New(mc, src, 100, 60)

	var sink bytes.Buffer
	m.SetSink(&sink)
	m.Heartbeat(context.Background())

	events := m.Events()
	require.Len(t, events, 1)
	for _, line := range events {
		require.Contains(t, sink.String(), line)
	}

	mc.Advance(MinCheckInterval)
	src.refillErr = errors.New("source unavailable")
	m.Heartbeat(context.Background())

	events = m.Events()
	require.Len(t, events, 2)
	require.Contains(t, sink.String(), events[1])
}

func TestHeartbeatNilSinkDoesNotPanic(t *testing.T) {
	mc := clock.NewMock(0)
	src := &fakeSource{balances: []uint64{50}, refillTo: 500}
	m := New(mc, src, 100, 60)

	require.NotPanics(t, func() {
		m.Heartbeat(context.Background())
	})
	require.Len(t, m.Events(), 1)
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	mc := clock.NewMock(0)
	src := &fakeSource{balances: []uint64{50}, refillTo: 500}
	m := New(mc, src, 100, 60)
	m.Heartbeat(context.Background())

	restored := New(mc, nil, 100, 60)
	restored.Restore(m.Events())
	require.Equal(t, m.Events(), restored.Events())
}
