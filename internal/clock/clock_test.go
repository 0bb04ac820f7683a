package clock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type proberFunc func(ctx context.Context) (time.Time, error)

func (f proberFunc) ProbeReferenceTime(ctx context.Context) (time.Time, error) { return f(ctx) }

func TestEstimateOffset_UsesRTTMidpoint(t *testing.T) {
	base := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(200 * time.Millisecond)}
	now := func() time.Time {
		v := ticks[0]
		ticks = ticks[1:]
		return v
	}
	// reference reads 1.5s behind the local midpoint
	ref := base.Add(100 * time.Millisecond).Add(-1500 * time.Millisecond)

	est, err := estimateOffset(context.Background(), proberFunc(func(context.Context) (time.Time, error) {
		return ref, nil
	}), now)
	require.NoError(t, err)
	assert.True(t, est.Known)
	assert.Equal(t, 200*time.Millisecond, est.RTT)
	assert.Equal(t, 1500*time.Millisecond, est.Offset)
}

func TestEstimateOffset_ProbeFailureIsUnknown(t *testing.T) {
	est, err := EstimateOffset(context.Background(), proberFunc(func(context.Context) (time.Time, error) {
		return time.Time{}, errors.New("dial tcp: timeout")
	}))
	require.ErrorIs(t, err, ErrProbeFailed)
	assert.False(t, est.Known)
	assert.Zero(t, est.Offset)

	est, err = EstimateOffset(context.Background(), proberFunc(func(context.Context) (time.Time, error) {
		return time.Time{}, nil
	}))
	require.ErrorIs(t, err, ErrProbeFailed)
	assert.False(t, est.Known)
}

func TestWaitUntil_PastTargetReturnsImmediately(t *testing.T) {
	w := NewWaiter()
	start := time.Now()
	wake, err := w.WaitUntil(context.Background(), start.Add(-time.Minute), 0)
	require.NoError(t, err)
	assert.True(t, wake.Immediate)
	assert.Zero(t, wake.Overshoot)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestWaitUntil_OffsetShiftsDeadline(t *testing.T) {
	w := NewWaiter()
	// target is in the future on the reference clock but local runs 2s ahead.
	target := time.Now().Add(time.Second)
	wake, err := w.WaitUntil(context.Background(), target, -2*time.Second)
	require.NoError(t, err)
	assert.True(t, wake.Immediate)
}

func TestWaitUntil_SpinPhaseAccuracy(t *testing.T) {
	w := NewWaiter()
	target := time.Now().Add(300 * time.Millisecond)
	wake, err := w.WaitUntil(context.Background(), target, 0)
	require.NoError(t, err)
	assert.False(t, wake.Immediate)
	assert.False(t, wake.Woke.Before(target))
	assert.Less(t, wake.Overshoot, 50*time.Millisecond)
}

func TestWaitUntil_FiveSecondsAhead(t *testing.T) {
	if testing.Short() {
		t.Skip("wall clock wait")
	}
	var countdown []time.Duration
	w := NewWaiter()
	w.OnCoarse = func(remaining time.Duration) { countdown = append(countdown, remaining) }

	target := time.Now().Add(5 * time.Second)
	wake, err := w.WaitUntil(context.Background(), target, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, wake.Overshoot, time.Duration(0))
	assert.LessOrEqual(t, wake.Overshoot, 50*time.Millisecond)
	assert.NotEmpty(t, countdown)
}

func TestWaitUntil_CancelDuringCoarsePhase(t *testing.T) {
	w := &Waiter{SpinWindow: 100 * time.Millisecond, CoarseStep: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := w.WaitUntil(ctx, time.Now().Add(time.Hour), 0)
	require.ErrorIs(t, err, ErrWaitAbandoned)
	assert.Less(t, time.Since(start), time.Second)
}
