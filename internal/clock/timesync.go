// Package clock estimates the local clock's offset from the site's clock and
// wakes the caller at a target instant with millisecond precision.
package clock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrProbeFailed is returned when the reference probe gives no usable timestamp.
var ErrProbeFailed = errors.New("reference time probe failed")

// Prober reads the reference clock. The site client's server-time probe satisfies it.
type Prober interface {
	ProbeReferenceTime(ctx context.Context) (time.Time, error)
}

// Estimate is the result of one offset measurement.
type Estimate struct {
	// Offset is local minus reference. Zero when Known is false.
	Offset time.Duration
	RTT    time.Duration
	Known  bool
}

// EstimateOffset samples the local clock around a single probe and compares the
// reference timestamp with the midpoint of the round trip.
// A failed probe returns an unknown (zero) estimate together with the error; it is
// never retried here.
func EstimateOffset(ctx context.Context, p Prober) (Estimate, error) {
	return estimateOffset(ctx, p, time.Now)
}

func estimateOffset(ctx context.Context, p Prober, now func() time.Time) (Estimate, error) {
	before := now()
	ref, err := p.ProbeReferenceTime(ctx)
	after := now()
	if err != nil {
		return Estimate{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	if ref.IsZero() {
		return Estimate{}, ErrProbeFailed
	}
	rtt := after.Sub(before)
	mid := before.Add(rtt / 2)
	return Estimate{Offset: mid.Sub(ref), RTT: rtt, Known: true}, nil
}
