package history

import (
	"context"
	"errors"
	"time"

	"github.com/example/slotgrab/internal/db"
	"github.com/example/slotgrab/internal/migrate"
)

type Postgres struct {
	d *db.DB
}

func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	d, err := db.Open(ctx, databaseURL, db.Options{MaxConns: 4})
	if err != nil {
		return nil, err
	}
	if err := migrate.Up(ctx, d, migrate.Postgres); err != nil {
		d.Close()
		return nil, err
	}
	return &Postgres{d: d}, nil
}

func (p *Postgres) Close() error {
	p.d.Close()
	return nil
}

func (p *Postgres) CreateRun(ctx context.Context, r Run) error {
	return p.d.Exec(ctx, `
		INSERT INTO runs (id, unit_id, dep_id, member_id, target_dates, snipe, state, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.UnitID, r.DepartmentID, r.BeneficiaryID, joinDates(r.Dates), r.Snipe, r.State, r.StartedAt.UTC())
}

func (p *Postgres) FinishRun(ctx context.Context, r Run) error {
	var finished *time.Time
	if r.FinishedAt != nil {
		t := r.FinishedAt.UTC()
		finished = &t
	}
	n, err := p.d.ExecCount(ctx, `
		UPDATE runs SET state=$2, reason=$3, attempts=$4, summary=$5, url=$6, finished_at=$7
		WHERE id=$1`,
		r.ID, r.State, r.Reason, r.Attempts, r.Summary, r.URL, finished)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AddAttempt(ctx context.Context, a Attempt) error {
	return p.d.Exec(ctx, `
		INSERT INTO attempts (run_id, attempt, mode, date, doctor_id, schedule_id, time_label, outcome, reason, url, diagnostic_ref, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.RunID, a.Attempt, a.Mode, a.Date, a.DoctorID, a.ScheduleID, a.TimeLabel,
		a.Outcome, a.Reason, a.URL, a.DiagnosticRef, a.At.UTC())
}

const pgRunColumns = `id, unit_id, dep_id, member_id, target_dates, snipe, state, reason, attempts, summary, url, started_at, finished_at`

func scanPGRun(row db.Row) (Run, error) {
	var r Run
	var dates string
	err := row.Scan(&r.ID, &r.UnitID, &r.DepartmentID, &r.BeneficiaryID, &dates, &r.Snipe,
		&r.State, &r.Reason, &r.Attempts, &r.Summary, &r.URL, &r.StartedAt, &r.FinishedAt)
	r.Dates = splitDates(dates)
	return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT ` + pgRunColumns + ` FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := p.d.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanPGRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanPGRun(p.d.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM runs WHERE id=$1`, id))
	if err != nil {
		if errors.Is(db.WrapNotFound(err), db.ErrNotFound) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return r, nil
}

func (p *Postgres) ListAttempts(ctx context.Context, runID string) ([]Attempt, error) {
	rows, err := p.d.Query(ctx, `
		SELECT run_id, attempt, mode, date, doctor_id, schedule_id, time_label, outcome, reason, url, diagnostic_ref, at
		FROM attempts WHERE run_id=$1 ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.RunID, &a.Attempt, &a.Mode, &a.Date, &a.DoctorID, &a.ScheduleID, &a.TimeLabel,
			&a.Outcome, &a.Reason, &a.URL, &a.DiagnosticRef, &a.At); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
