package clock

import (
	"context"
	"errors"
	"time"
)

// ErrWaitAbandoned is returned when the wait is cancelled during the coarse phase.
var ErrWaitAbandoned = errors.New("wait abandoned")

const (
	// DefaultSpinWindow is how close to the deadline the waiter stops sleeping
	// and spins. The spin holds one CPU for at most this long.
	DefaultSpinWindow = 2 * time.Second
	// DefaultCoarseStep caps a single coarse sleep.
	DefaultCoarseStep = time.Second
)

// Wake describes how a wait ended.
type Wake struct {
	// Adjusted is the target expressed on the local clock.
	Adjusted time.Time
	Woke     time.Time
	// Overshoot is Woke - Adjusted; zero for an immediate return.
	Overshoot time.Duration
	// Immediate is true when the target had already passed at entry.
	Immediate bool
}

// Waiter suspends until a wall-clock instant: cancellable coarse sleeps while the
// deadline is far, then a busy spin inside SpinWindow. The spin is not cancellable.
type Waiter struct {
	SpinWindow time.Duration
	CoarseStep time.Duration
	// OnCoarse is called after every coarse sleep with the remaining time (countdown logs).
	OnCoarse func(remaining time.Duration)
}

func NewWaiter() *Waiter {
	return &Waiter{SpinWindow: DefaultSpinWindow, CoarseStep: DefaultCoarseStep}
}

// WaitUntil blocks until target, read on the reference clock, is reached locally.
// offset is local minus reference, as produced by EstimateOffset.
func (w *Waiter) WaitUntil(ctx context.Context, target time.Time, offset time.Duration) (Wake, error) {
	spin := w.SpinWindow
	if spin <= 0 {
		spin = DefaultSpinWindow
	}
	step := w.CoarseStep
	if step <= 0 {
		step = DefaultCoarseStep
	}

	adjusted := target.Add(offset)
	now := time.Now()
	if !now.Before(adjusted) {
		return Wake{Adjusted: adjusted, Woke: now, Immediate: true}, nil
	}

	for {
		remaining := time.Until(adjusted)
		if remaining <= spin {
			break
		}
		if err := ctx.Err(); err != nil {
			return Wake{Adjusted: adjusted, Woke: time.Now()}, ErrWaitAbandoned
		}
		d := remaining - spin
		if d > step {
			d = step
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return Wake{Adjusted: adjusted, Woke: time.Now()}, ErrWaitAbandoned
		case <-t.C:
		}
		if w.OnCoarse != nil {
			w.OnCoarse(time.Until(adjusted))
		}
	}

	for time.Now().Before(adjusted) {
	}

	woke := time.Now()
	return Wake{Adjusted: adjusted, Woke: woke, Overshoot: woke.Sub(adjusted)}, nil
}
