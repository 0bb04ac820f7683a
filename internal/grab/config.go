package grab

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/slotgrab/internal/domain/appointment"
)

const (
	DefaultMaxConcurrency    = 5
	DefaultRetryInterval     = 300 * time.Millisecond
	DefaultWatchInterval     = 30 * time.Second
	DefaultRushInterval      = 300 * time.Millisecond
	DefaultBurstDuration     = 60 * time.Second
	DefaultSessionCheckEvery = 1
)

// SnipeConfig switches a run into watch/rush mode.
type SnipeConfig struct {
	Enabled       bool
	WatchInterval time.Duration
	RushInterval  time.Duration
	BurstDuration time.Duration
	// SessionCheckEvery is the number of query cycles between session checks.
	// It also applies to plain runs. Negative disables the periodic check.
	SessionCheckEvery int
}

// RunConfig is everything one run needs besides its collaborators.
type RunConfig struct {
	Target         appointment.Target
	MaxConcurrency int
	// StartAt is read on the site's clock. Zero starts immediately.
	StartAt       time.Time
	RetryInterval time.Duration
	// MaxRetries bounds plain runs; 0 is unbounded.
	MaxRetries int
	// Deadline ends the run as exhausted once passed. Zero means none.
	Deadline time.Time
	Snipe    SnipeConfig
}

func (c RunConfig) WithDefaults() RunConfig {
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.Snipe.WatchInterval == 0 {
		c.Snipe.WatchInterval = DefaultWatchInterval
	}
	if c.Snipe.RushInterval == 0 {
		c.Snipe.RushInterval = DefaultRushInterval
	}
	if c.Snipe.BurstDuration == 0 {
		c.Snipe.BurstDuration = DefaultBurstDuration
	}
	if c.Snipe.SessionCheckEvery == 0 {
		c.Snipe.SessionCheckEvery = DefaultSessionCheckEvery
	}
	return c
}

func (c RunConfig) Validate() error {
	if err := c.Target.Validate(); err != nil {
		return err
	}
	if c.MaxConcurrency < 1 {
		return errors.New("max_concurrency must be >= 1")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be >= 0")
	}
	if c.RetryInterval < 0 || c.Snipe.WatchInterval < 0 || c.Snipe.RushInterval < 0 || c.Snipe.BurstDuration < 0 {
		return errors.New("intervals must not be negative")
	}
	if !c.Deadline.IsZero() && !c.StartAt.IsZero() && !c.Deadline.After(c.StartAt) {
		return fmt.Errorf("deadline %s is not after start time %s", c.Deadline.Format(time.RFC3339), c.StartAt.Format(time.RFC3339))
	}
	return nil
}
