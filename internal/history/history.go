// Package history persists runs and their claim attempts so they can be listed
// after the fact and served by the status server.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("run not found")

type Driver string

const (
	DriverNone     Driver = "none"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Run is one row of the runs table.
type Run struct {
	ID            string
	UnitID        string
	DepartmentID  string
	BeneficiaryID string
	Dates         []string
	Snipe         bool
	State         string
	Reason        string
	Attempts      int
	// Summary is Report.Summary() once the run has finished.
	Summary    string
	URL        string
	StartedAt  time.Time
	FinishedAt *time.Time
}

func (r Run) Finished() bool { return r.FinishedAt != nil }

func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Attempt is one claim attempt of a run.
type Attempt struct {
	RunID         string
	Attempt       int
	Mode          string
	Date          string
	DoctorID      string
	ScheduleID    string
	TimeLabel     string
	Outcome       string
	Reason        string
	URL           string
	DiagnosticRef string
	At            time.Time
}

type Store interface {
	CreateRun(ctx context.Context, r Run) error
	// FinishRun overwrites the outcome columns of an existing run.
	FinishRun(ctx context.Context, r Run) error
	AddAttempt(ctx context.Context, a Attempt) error
	// ListRuns returns the newest runs first. limit <= 0 means no limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	GetRun(ctx context.Context, id string) (Run, error)
	ListAttempts(ctx context.Context, runID string) ([]Attempt, error)
	Close() error
}

type Config struct {
	Driver      Driver
	DatabaseURL string
	SQLitePath  string
}

// Open returns the configured store, or nil for DriverNone.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(strings.ToLower(string(cfg.Driver))) {
	case "", DriverNone:
		return nil, nil
	case DriverSQLite:
		s, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL required for postgres history")
		}
		p, err := OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

func joinDates(d []string) string { return strings.Join(d, ",") }

func splitDates(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
