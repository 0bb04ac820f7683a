package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/slotgrab/internal/classify"
	"github.com/example/slotgrab/internal/domain/appointment"
	"github.com/example/slotgrab/internal/grab"
)

func openSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sub", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	start := time.Date(2026, 3, 1, 6, 59, 58, 0, time.UTC)

	require.NoError(t, s.CreateRun(ctx, Run{
		ID: "r1", UnitID: "131", DepartmentID: "362", BeneficiaryID: "m1",
		Dates: []string{"2026-03-05", "2026-03-06"}, Snipe: true, State: "idle", StartedAt: start,
	}))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-05", "2026-03-06"}, got.Dates)
	assert.True(t, got.Snipe)
	assert.False(t, got.Finished())
	assert.True(t, got.StartedAt.Equal(start))

	require.NoError(t, s.AddAttempt(ctx, Attempt{RunID: "r1", Attempt: 1, Mode: "rush", Date: "2026-03-05",
		DoctorID: "d1", ScheduleID: "s1", TimeLabel: "08:00-08:30", Outcome: "rejected", Reason: "full", At: start.Add(time.Second)}))
	require.NoError(t, s.AddAttempt(ctx, Attempt{RunID: "r1", Attempt: 2, Mode: "rush", Date: "2026-03-05",
		DoctorID: "d1", ScheduleID: "s1", Outcome: "success", URL: "https://x/success", At: start.Add(2 * time.Second)}))

	end := start.Add(3 * time.Second)
	require.NoError(t, s.FinishRun(ctx, Run{ID: "r1", State: "succeeded", Attempts: 2, Summary: "booked", URL: "https://x/success", FinishedAt: &end}))

	got, err = s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", got.State)
	assert.Equal(t, 2, got.Attempts)
	require.True(t, got.Finished())
	assert.Equal(t, 3*time.Second, got.Duration())

	attempts, err := s.ListAttempts(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "08:00-08:30", attempts[0].TimeLabel)
	assert.Equal(t, "success", attempts[1].Outcome)
	assert.True(t, attempts[1].At.Equal(start.Add(2*time.Second)))
}

func TestSQLiteListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	base := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateRun(ctx, Run{ID: id, UnitID: "u", DepartmentID: "d", BeneficiaryID: "m",
			Dates: []string{"2026-03-05"}, State: "idle", StartedAt: base.Add(time.Duration(i) * 500 * time.Millisecond)}))
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	runs, err = s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSQLiteNotFound(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now()
	assert.ErrorIs(t, s.FinishRun(ctx, Run{ID: "missing", State: "cancelled", FinishedAt: &now}), ErrNotFound)

	attempts, err := s.ListAttempts(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestSQLiteReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.CreateRun(ctx, Run{ID: "r1", UnitID: "u", DepartmentID: "d", BeneficiaryID: "m",
		Dates: []string{"2026-03-05"}, State: "idle", StartedAt: time.Now()}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	rec := Recorder{Store: s}

	target := appointment.Target{UnitID: "131", DepartmentID: "362", BeneficiaryID: "m1", Dates: []string{"2026-03-05"}}
	start := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	require.NoError(t, rec.RunStarted(ctx, "run-1", grab.RunConfig{Target: target}, start))

	cand := appointment.Candidate{
		Date: "2026-03-05",
		Slot: appointment.Slot{DoctorID: "d1", ScheduleID: "s1", SessionType: appointment.SessionMorning},
		Time: &appointment.TimeOption{Label: "09:00-09:30", Value: "t1"},
	}
	require.NoError(t, rec.RecordAttempt(ctx, grab.AttemptRecord{
		RunID: "run-1", Attempt: 1, Mode: grab.StateRush, Candidate: cand,
		Outcome: classify.Success.String(), URL: "https://x/success", At: start.Add(time.Second),
	}))
	require.NoError(t, rec.RunFinished(ctx, grab.Report{
		RunID: "run-1", Target: target, State: grab.StateSucceeded, Attempts: 1,
		Candidate: &cand, Claim: &classify.Result{Outcome: classify.Success, URL: "https://x/success"},
		StartedAt: start, FinishedAt: start.Add(2 * time.Second),
	}))

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", run.State)
	assert.Equal(t, "https://x/success", run.URL)
	assert.Contains(t, run.Summary, "booked")

	attempts, err := s.ListAttempts(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "rush", attempts[0].Mode)
	assert.Equal(t, "09:00-09:30", attempts[0].TimeLabel)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Driver: DriverNone})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(ctx, Config{Driver: "mongo"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: DriverPostgres})
	assert.ErrorContains(t, err, "DATABASE_URL")

	s, err = Open(ctx, Config{Driver: "SQLite", SQLitePath: filepath.Join(t.TempDir(), "h.db")})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.NoError(t, s.Close())
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, url)
	require.NoError(t, err)
	defer p.Close()

	id := "pg-" + time.Now().Format("150405.000000000")
	require.NoError(t, p.CreateRun(ctx, Run{ID: id, UnitID: "u", DepartmentID: "d", BeneficiaryID: "m",
		Dates: []string{"2026-03-05"}, State: "idle", StartedAt: time.Now()}))
	require.NoError(t, p.AddAttempt(ctx, Attempt{RunID: id, Attempt: 1, Mode: "watch", Date: "2026-03-05",
		DoctorID: "d1", ScheduleID: "s1", Outcome: "skipped", At: time.Now()}))
	end := time.Now()
	require.NoError(t, p.FinishRun(ctx, Run{ID: id, State: "exhausted", Attempts: 1, FinishedAt: &end}))

	run, err := p.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "exhausted", run.State)

	_, err = p.GetRun(ctx, id+"-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
