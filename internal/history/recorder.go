package history

import (
	"context"
	"time"

	"github.com/example/slotgrab/internal/grab"
)

// Recorder writes orchestrator events to a Store.
type Recorder struct {
	Store Store
}

var _ grab.Recorder = Recorder{}

func (r Recorder) RunStarted(ctx context.Context, runID string, cfg grab.RunConfig, at time.Time) error {
	t := cfg.Target
	return r.Store.CreateRun(ctx, Run{
		ID:            runID,
		UnitID:        t.UnitID,
		DepartmentID:  t.DepartmentID,
		BeneficiaryID: t.BeneficiaryID,
		Dates:         t.Dates,
		Snipe:         cfg.Snipe.Enabled,
		State:         grab.StateIdle.String(),
		StartedAt:     at,
	})
}

func (r Recorder) RecordAttempt(ctx context.Context, a grab.AttemptRecord) error {
	rec := Attempt{
		RunID:         a.RunID,
		Attempt:       a.Attempt,
		Mode:          a.Mode.String(),
		Date:          a.Candidate.Date,
		DoctorID:      a.Candidate.Slot.DoctorID,
		ScheduleID:    a.Candidate.Slot.ScheduleID,
		Outcome:       a.Outcome,
		Reason:        a.Reason,
		URL:           a.URL,
		DiagnosticRef: a.DiagnosticRef,
		At:            a.At,
	}
	if a.Candidate.Time != nil {
		rec.TimeLabel = a.Candidate.Time.Label
	}
	return r.Store.AddAttempt(ctx, rec)
}

func (r Recorder) RunFinished(ctx context.Context, rep grab.Report) error {
	finished := rep.FinishedAt
	run := Run{
		ID:         rep.RunID,
		State:      rep.State.String(),
		Reason:     rep.Reason,
		Attempts:   rep.Attempts,
		Summary:    rep.Summary(),
		FinishedAt: &finished,
	}
	if rep.Claim != nil {
		run.URL = rep.Claim.URL
	}
	return r.Store.FinishRun(ctx, run)
}
