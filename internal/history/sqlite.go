package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/slotgrab/internal/db"
	"github.com/example/slotgrab/internal/migrate"
)

// DefaultSQLitePath is used when no path is configured.
const DefaultSQLitePath = "slotgrab.db"

// Fixed-width fractions keep stored times sorting lexically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

type SQLite struct {
	conn *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer keeps sqlite free of SQLITE_BUSY between the run and the status server.
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := migrate.Up(ctx, sqlExecer{conn}, migrate.SQLite); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &SQLite{conn: conn}, nil
}

// sqlExecer adapts database/sql to migrate.Execer.
type sqlExecer struct{ conn *sql.DB }

func (s sqlExecer) Exec(ctx context.Context, q string, args ...any) error {
	_, err := s.conn.ExecContext(ctx, q, args...)
	return err
}

func (s sqlExecer) QueryRow(ctx context.Context, q string, args ...any) db.Row {
	return s.conn.QueryRowContext(ctx, q, args...)
}

func (s *SQLite) Close() error { return s.conn.Close() }

func (s *SQLite) CreateRun(ctx context.Context, r Run) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO runs (id, unit_id, dep_id, member_id, target_dates, snipe, state, started_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		r.ID, r.UnitID, r.DepartmentID, r.BeneficiaryID, joinDates(r.Dates), r.Snipe, r.State, formatTime(r.StartedAt))
	return err
}

func (s *SQLite) FinishRun(ctx context.Context, r Run) error {
	var finished sql.NullString
	if r.FinishedAt != nil {
		finished = sql.NullString{String: formatTime(*r.FinishedAt), Valid: true}
	}
	res, err := s.conn.ExecContext(ctx, `
		UPDATE runs SET state=?, reason=?, attempts=?, summary=?, url=?, finished_at=?
		WHERE id=?`,
		r.State, r.Reason, r.Attempts, r.Summary, r.URL, finished, r.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) AddAttempt(ctx context.Context, a Attempt) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO attempts (run_id, attempt, mode, date, doctor_id, schedule_id, time_label, outcome, reason, url, diagnostic_ref, at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.RunID, a.Attempt, a.Mode, a.Date, a.DoctorID, a.ScheduleID, a.TimeLabel,
		a.Outcome, a.Reason, a.URL, a.DiagnosticRef, formatTime(a.At))
	return err
}

const sqliteRunColumns = `id, unit_id, dep_id, member_id, target_dates, snipe, state, reason, attempts, summary, url, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scanner) (Run, error) {
	var (
		r        Run
		dates    string
		started  string
		finished sql.NullString
	)
	if err := row.Scan(&r.ID, &r.UnitID, &r.DepartmentID, &r.BeneficiaryID, &dates, &r.Snipe,
		&r.State, &r.Reason, &r.Attempts, &r.Summary, &r.URL, &started, &finished); err != nil {
		return Run{}, err
	}
	r.Dates = splitDates(dates)
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("run %s started_at: %w", r.ID, err)
	}
	if finished.Valid {
		t, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return Run{}, fmt.Errorf("run %s finished_at: %w", r.ID, err)
		}
		r.FinishedAt = &t
	}
	return r, nil
}

func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.conn.QueryContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanSQLiteRun(s.conn.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

func (s *SQLite) ListAttempts(ctx context.Context, runID string) ([]Attempt, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT run_id, attempt, mode, date, doctor_id, schedule_id, time_label, outcome, reason, url, diagnostic_ref, at
		FROM attempts WHERE run_id=? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var at string
		if err := rows.Scan(&a.RunID, &a.Attempt, &a.Mode, &a.Date, &a.DoctorID, &a.ScheduleID, &a.TimeLabel,
			&a.Outcome, &a.Reason, &a.URL, &a.DiagnosticRef, &at); err != nil {
			return nil, err
		}
		if a.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}
