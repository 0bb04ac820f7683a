package grab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/slotgrab/internal/batch"
	"github.com/example/slotgrab/internal/classify"
	"github.com/example/slotgrab/internal/clock"
	"github.com/example/slotgrab/internal/domain/appointment"
	"github.com/example/slotgrab/internal/metrics"
	"github.com/example/slotgrab/internal/retry"
)

// stop is a request to end the run in a terminal state.
type stop struct {
	state  State
	reason string
}

var (
	stopCancelled   = &stop{StateCancelled, ReasonCancelled}
	stopSessionLost = &stop{StateSessionLost, ReasonSessionLost}
)

// run holds the mutable state of one Run call. Only the goroutine executing Run
// touches it.
type run struct {
	o      *Orchestrator
	cfg    RunConfig
	log    *slog.Logger
	state  RunState
	report Report
}

func (r *run) enter(to State) {
	from := r.state.State
	if !canTransition(from, to) {
		panic(fmt.Sprintf("grab: illegal transition %s -> %s", from, to))
	}
	at := r.o.now()
	r.state.State = to
	if to == StateWatch || to == StateRush {
		r.state.ModeEnteredAt = at
	}
	r.report.Transitions = append(r.report.Transitions, Transition{From: from, To: to, At: at, Attempt: r.state.Attempts})
	metrics.ModeTransitionsTotal.WithLabelValues(to.String()).Inc()
	r.log.Debug("state changed", "from", from.String(), "to", to.String(), "attempt", r.state.Attempts)
}

func (r *run) execute(ctx context.Context) (State, string) {
	if ctx.Err() != nil {
		return StateCancelled, ReasonCancelled
	}
	if r.sessionLost(ctx) {
		return StateSessionLost, ReasonSessionLost
	}
	if !r.cfg.StartAt.IsZero() {
		r.enter(StateWaiting)
		if err := r.waitForStart(ctx); err != nil {
			return StateCancelled, ReasonCancelled
		}
	}

	var s *stop
	if r.cfg.Snipe.Enabled {
		s = r.snipe(ctx)
	} else {
		s = r.plain(ctx)
	}
	return s.state, s.reason
}

func (r *run) finish(ctx context.Context, st State, reason string) {
	r.enter(st)
	r.state.Stopped = true
	r.report.State = st
	r.report.Reason = reason
	r.report.Attempts = r.state.Attempts
	r.report.FinishedAt = r.o.now()
	metrics.RunsTotal.WithLabelValues(st.String()).Inc()

	level := slog.LevelInfo
	if st != StateSucceeded {
		level = slog.LevelWarn
	}
	r.log.Log(ctx, level, "run finished", "state", st.String(), "attempts", r.state.Attempts, "summary", r.report.Summary())

	if r.o.Recorder != nil {
		if err := r.o.Recorder.RunFinished(context.WithoutCancel(ctx), r.report); err != nil {
			r.log.Warn("recording run result failed", "error", err)
		}
	}
}

// boundary is checked between cycles.
func (r *run) boundary(ctx context.Context) *stop {
	if ctx.Err() != nil {
		return stopCancelled
	}
	if !r.cfg.Deadline.IsZero() && !r.o.now().Before(r.cfg.Deadline) {
		return &stop{StateExhausted, ReasonDeadline}
	}
	return nil
}

// sessionLost asks the site whether the login still works. Transport errors are
// not proof of a lost session and only get logged.
func (r *run) sessionLost(ctx context.Context) bool {
	ok, err := r.o.Client.IsSessionValid(ctx)
	switch {
	case errors.Is(err, appointment.ErrSessionInvalid):
		return true
	case err != nil:
		r.log.Warn("session check failed", "error", err)
		return false
	}
	return !ok
}

// sessionDue runs the periodic session check before the next cycle. The first
// cycle is covered by the check at start.
func (r *run) sessionDue(ctx context.Context) bool {
	every := r.cfg.Snipe.SessionCheckEvery
	if every <= 0 || r.state.Attempts == 0 || r.state.Attempts%every != 0 {
		return false
	}
	return r.sessionLost(ctx)
}

func (r *run) waitForStart(ctx context.Context) error {
	est := r.estimateOffset(ctx)
	r.report.Offset = est

	r.log.Info("waiting for start time", "start_at", r.cfg.StartAt, "offset", est.Offset, "offset_known", est.Known)
	wake, err := r.o.Waiter.WaitUntil(ctx, r.cfg.StartAt, est.Offset)
	if err != nil {
		r.log.Info("wait abandoned", "error", err)
		return err
	}
	r.report.Wake = &wake
	metrics.ObserveWake(wake.Overshoot)
	r.log.Info("start time reached", "overshoot", wake.Overshoot, "immediate", wake.Immediate)
	return nil
}

// estimateOffset retries the probe a few times and degrades to the local clock.
func (r *run) estimateOffset(ctx context.Context) clock.Estimate {
	var est clock.Estimate
	err := retry.Do(ctx, retry.Policy{Attempts: r.o.ProbeAttempts, BaseDelay: r.o.ProbeDelay}, func(ctx context.Context) error {
		e, err := clock.EstimateOffset(ctx, r.o.Client)
		if err != nil {
			return err
		}
		est = e
		return nil
	})
	if err != nil {
		r.log.Warn("clock offset unknown, using local clock", "error", err)
		return clock.Estimate{}
	}
	metrics.ClockOffset.Set(est.Offset.Seconds())
	r.log.Info("clock offset estimated", "offset", est.Offset, "rtt", est.RTT)
	return est
}

// plain retries query and claim cycles in Rush until success or max_retries.
func (r *run) plain(ctx context.Context) *stop {
	r.enter(StateRush)
	for {
		if s := r.boundary(ctx); s != nil {
			return s
		}
		if r.sessionDue(ctx) {
			return stopSessionLost
		}
		r.state.Attempts++
		cands, s := r.scan(ctx)
		if s != nil {
			return s
		}
		if s := r.claimAll(ctx, cands); s != nil {
			return s
		}
		if r.cfg.MaxRetries > 0 && r.state.Attempts >= r.cfg.MaxRetries {
			return &stop{StateExhausted, fmt.Sprintf("no success after %d attempts", r.state.Attempts)}
		}
		if r.o.sleep(ctx, r.cfg.RetryInterval) != nil {
			return stopCancelled
		}
	}
}

// snipe polls in Watch and bursts in Rush. A Watch cycle that finds candidates
// claims them straight away as the first Rush cycle.
func (r *run) snipe(ctx context.Context) *stop {
	sc := r.cfg.Snipe
	r.enter(StateWatch)
	for {
		if s := r.boundary(ctx); s != nil {
			return s
		}

		switch r.state.State {
		case StateWatch:
			if r.sessionDue(ctx) {
				return stopSessionLost
			}
			r.state.Attempts++
			cands, s := r.scan(ctx)
			if s != nil {
				return s
			}
			if len(cands) == 0 {
				r.log.Info("no slots, watching", "attempt", r.state.Attempts, "next_in", sc.WatchInterval)
				if r.o.sleep(ctx, sc.WatchInterval) != nil {
					return stopCancelled
				}
				continue
			}
			r.log.Info("slots found, rushing", "candidates", len(cands), "burst", sc.BurstDuration)
			r.enter(StateRush)
			if s := r.claimAll(ctx, cands); s != nil {
				return s
			}

		case StateRush:
			if r.o.now().Sub(r.state.ModeEnteredAt) >= sc.BurstDuration {
				r.log.Info("burst over without success, back to watching")
				r.enter(StateWatch)
				if r.o.sleep(ctx, sc.WatchInterval) != nil {
					return stopCancelled
				}
				continue
			}
			if r.sessionDue(ctx) {
				return stopSessionLost
			}
			r.state.Attempts++
			cands, s := r.scan(ctx)
			if s != nil {
				return s
			}
			if s := r.claimAll(ctx, cands); s != nil {
				return s
			}
		}

		if r.o.sleep(ctx, sc.RushInterval) != nil {
			return stopCancelled
		}
	}
}

// scan queries every target date and filters the result. Per-date failures are
// logged and treated as no slots for that date.
func (r *run) scan(ctx context.Context) ([]appointment.Candidate, *stop) {
	t := r.cfg.Target
	results := batch.QueryAll(ctx, t.Dates, r.cfg.MaxConcurrency,
		func(ctx context.Context, date string) ([]appointment.Slot, error) {
			return r.o.Client.QueryAvailability(ctx, t.UnitID, t.DepartmentID, date)
		}, metrics.Lookups{})

	slots := make(appointment.SlotBatch, len(results))
	lost := false
	for _, date := range t.Dates {
		res, ok := results[date]
		if !ok {
			continue
		}
		switch {
		case res.Err == nil:
			slots[date] = res.Value
		case errors.Is(res.Err, appointment.ErrSessionInvalid):
			lost = true
		case errors.Is(res.Err, appointment.ErrNoSlots):
			r.log.Debug("no schedule for date", "date", date)
		case errors.Is(res.Err, context.Canceled), errors.Is(res.Err, context.DeadlineExceeded):
		default:
			r.log.Warn("availability lookup failed", "attempt", r.state.Attempts, "date", date, "error", res.Err)
		}
	}
	if lost {
		return nil, stopSessionLost
	}

	cands := appointment.Select(slots, t)
	metrics.ObserveCycle(r.state.State.String(), len(cands))
	return cands, nil
}

// claimAll attempts candidates in order. Cancellation is honoured between
// candidates; an attempt that has started always runs to completion.
func (r *run) claimAll(ctx context.Context, cands []appointment.Candidate) *stop {
	for _, c := range cands {
		if ctx.Err() != nil {
			return stopCancelled
		}
		if s := r.claim(context.WithoutCancel(ctx), c); s != nil {
			return s
		}
	}
	return nil
}

func (r *run) claim(ctx context.Context, c appointment.Candidate) *stop {
	t := r.cfg.Target
	log := r.log.With(
		"attempt", r.state.Attempts,
		"mode", r.state.State.String(),
		"date", c.Date,
		"doctor_id", c.Slot.DoctorID,
		"schedule_id", c.Slot.ScheduleID,
	)
	rec := AttemptRecord{
		RunID:     r.report.RunID,
		Attempt:   r.state.Attempts,
		Mode:      r.state.State,
		Candidate: c,
		At:        r.o.now(),
	}

	bundle, err := r.o.Client.FetchClaimPrerequisites(ctx, t.UnitID, t.DepartmentID, c.Slot.ScheduleID, t.BeneficiaryID)
	if errors.Is(err, appointment.ErrSessionInvalid) {
		return stopSessionLost
	}
	if err != nil {
		log.Warn("claim prerequisites unavailable", "error", err)
		rec.Outcome, rec.Reason = OutcomeError, err.Error()
		r.record(ctx, rec)
		return nil
	}
	if missing := bundle.Missing(); len(missing) > 0 {
		err := fmt.Errorf("%w: %s", appointment.ErrPrerequisiteMissing, strings.Join(missing, ", "))
		log.Warn("skipping candidate", "error", err)
		rec.Outcome, rec.Reason = OutcomeSkipped, err.Error()
		r.record(ctx, rec)
		return nil
	}

	opt, _ := appointment.ChooseTime(bundle.Times, t.PreferredHours)
	c.Time = &opt
	rec.Candidate = c

	log.Info("submitting claim", "candidate", c.String())
	raw, err := r.o.Client.SubmitClaim(ctx, bundle, c, t)
	if errors.Is(err, appointment.ErrSessionInvalid) {
		return stopSessionLost
	}
	if err != nil {
		log.Warn("claim submit failed", "error", err)
		rec.Outcome, rec.Reason = OutcomeError, err.Error()
		r.record(ctx, rec)
		return nil
	}

	res := r.o.Classifier.Classify(ctx, raw, t.BeneficiaryID)
	metrics.ClaimsTotal.WithLabelValues(res.Outcome.String()).Inc()
	rec.Outcome, rec.Reason, rec.URL, rec.DiagnosticRef = res.Outcome.String(), res.Reason, res.URL, res.DiagnosticRef
	r.record(ctx, rec)

	switch res.Outcome {
	case classify.Success:
		r.report.Candidate = &c
		r.report.Claim = &res
		log.Info("claim accepted", "url", res.URL)
		return &stop{StateSucceeded, "claimed " + c.String()}
	case classify.Rejected:
		log.Info("claim rejected", "reason", res.Reason)
	default:
		log.Warn("claim outcome unknown", "reason", res.Reason, "diagnostic", res.DiagnosticRef)
	}
	return nil
}

func (r *run) record(ctx context.Context, a AttemptRecord) {
	if r.o.Recorder == nil {
		return
	}
	if err := r.o.Recorder.RecordAttempt(ctx, a); err != nil {
		r.log.Warn("recording attempt failed", "error", err)
	}
}
