// Package grab drives a run: wait for the start instant, poll availability, claim
// candidates and decide when to stop.
//
// A run is a small state machine:
//
//	Idle -> Waiting -> Watch <-> Rush -> Succeeded | Exhausted | Cancelled | SessionLost
//
// Plain runs skip Watch and retry in Rush until max_retries. Snipe runs poll slowly in
// Watch and switch to Rush for a bounded burst as soon as a cycle finds candidates.
package grab

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/slotgrab/internal/classify"
	"github.com/example/slotgrab/internal/clock"
	"github.com/example/slotgrab/internal/domain/appointment"
	"github.com/example/slotgrab/internal/logging"
)

const (
	ReasonCancelled   = "stopped by request"
	ReasonSessionLost = "session no longer valid, log in again"
	ReasonDeadline    = "deadline reached"
)

// Classifier turns a raw submit response into an outcome. *classify.Classifier
// satisfies it.
type Classifier interface {
	Classify(ctx context.Context, raw appointment.RawResponse, beneficiaryID string) classify.Result
}

// Waiter blocks until a wall-clock instant. *clock.Waiter satisfies it.
type Waiter interface {
	WaitUntil(ctx context.Context, target time.Time, offset time.Duration) (clock.Wake, error)
}

// Recorder persists run history. Failures are logged and never end a run.
type Recorder interface {
	RunStarted(ctx context.Context, runID string, cfg RunConfig, at time.Time) error
	RecordAttempt(ctx context.Context, a AttemptRecord) error
	RunFinished(ctx context.Context, r Report) error
}

type Orchestrator struct {
	Client     appointment.SiteClient
	Classifier Classifier
	Waiter     Waiter
	Recorder   Recorder
	Logger     *slog.Logger

	// ProbeAttempts and ProbeDelay bound the clock offset estimate before a timed start.
	ProbeAttempts int
	ProbeDelay    time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

func New(client appointment.SiteClient, classifier Classifier, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Client:        client,
		Classifier:    classifier,
		Waiter:        clock.NewWaiter(),
		Logger:        logger,
		ProbeAttempts: 3,
		ProbeDelay:    200 * time.Millisecond,
		now:           time.Now,
		sleep:         sleepCtx,
		newID:         uuid.NewString,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes one run to a terminal state. notify, if set, is called exactly once
// with the final report. The returned error is non-nil only for an invalid config,
// in which case nothing ran and notify is not called.
func (o *Orchestrator) Run(ctx context.Context, cfg RunConfig, notify func(Report)) (Report, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}

	id := o.newID()
	r := &run{
		o:     o,
		cfg:   cfg,
		log:   o.Logger.With("run_id", id),
		state: RunState{State: StateIdle},
		report: Report{
			RunID:     id,
			Target:    cfg.Target,
			StartedAt: o.now(),
		},
	}
	ctx = logging.WithRunID(logging.WithLogger(ctx, r.log), id)

	r.log.Info("run started",
		"unit", orID(cfg.Target.UnitName, cfg.Target.UnitID),
		"department", orID(cfg.Target.DepartmentName, cfg.Target.DepartmentID),
		"dates", cfg.Target.Dates,
		"beneficiary", orID(cfg.Target.BeneficiaryName, cfg.Target.BeneficiaryID),
		"snipe", cfg.Snipe.Enabled,
		"max_concurrency", cfg.MaxConcurrency,
	)
	if o.Recorder != nil {
		if err := o.Recorder.RunStarted(context.WithoutCancel(ctx), id, cfg, r.report.StartedAt); err != nil {
			r.log.Warn("recording run start failed", "error", err)
		}
	}

	st, reason := r.execute(ctx)
	r.finish(ctx, st, reason)
	if notify != nil {
		notify(r.report)
	}
	return r.report, nil
}
