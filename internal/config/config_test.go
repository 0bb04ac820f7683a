package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/slotgrab/internal/domain/appointment"
	"github.com/example/slotgrab/internal/grab"
	"github.com/example/slotgrab/internal/history"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"LOG_LEVEL", "LOG_FORMAT", "SITE_BASE_URL", "SITE_GATE_URL", "SITE_USER_URL", "SITE_HTTP_TIMEOUT_MS",
		"SESSION_FILE", "COOKIE_HASH_KEY", "COOKIE_BLOCK_KEY", "HISTORY_DRIVER", "DATABASE_URL", "SQLITE_PATH",
		"DIAG_DRIVER", "DIAG_DIR", "DIAG_S3_BUCKET", "DIAG_S3_REGION", "DIAG_S3_ENDPOINT", "DIAG_S3_PATH_STYLE",
		"STATUS_ADDR", "STATUS_USER", "STATUS_PASSWORD_BCRYPT", "NOTIFY_WEBHOOK_URL", "NOTIFY_WEBHOOK_SECRET",
	} {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "cookies.json", cfg.SessionFile)
	assert.Equal(t, history.DriverSQLite, cfg.History().Driver)
	assert.Equal(t, "fs", string(cfg.Diagnostics().Driver))
	assert.False(t, cfg.HasCookieKeys())
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	hash := base64.StdEncoding.EncodeToString(make([]byte, 32))
	block := base64.StdEncoding.EncodeToString(make([]byte, 16))
	keyFile := filepath.Join(t.TempDir(), "block.key")
	require.NoError(t, os.WriteFile(keyFile, []byte(block+"\n"), 0o600))

	t.Setenv("SITE_HTTP_TIMEOUT_MS", "2500")
	t.Setenv("HISTORY_DRIVER", "Postgres")
	t.Setenv("DIAG_DRIVER", "s3")
	t.Setenv("DIAG_S3_BUCKET", "dumps")
	t.Setenv("DIAG_S3_PATH_STYLE", "true")
	t.Setenv("COOKIE_HASH_KEY", hash)
	t.Setenv("COOKIE_BLOCK_KEY", keyFile)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, cfg.Site().Timeout)
	assert.Equal(t, history.DriverPostgres, cfg.History().Driver)
	assert.Equal(t, "dumps", cfg.Diagnostics().S3Bucket)
	assert.True(t, cfg.Diagnostics().S3PathStyle)
	assert.True(t, cfg.HasCookieKeys())
	assert.Len(t, cfg.CookieHashKey, 32)
	assert.Len(t, cfg.CookieBlockKey, 16)
}

func TestFromEnvErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"bad timeout":    {"SITE_HTTP_TIMEOUT_MS": "soon"},
		"bad driver":     {"HISTORY_DRIVER": "mongo"},
		"bad path style": {"DIAG_S3_PATH_STYLE": "maybe"},
		"half keys":      {"COOKIE_HASH_KEY": base64.StdEncoding.EncodeToString(make([]byte, 32))},
		"bad base64": {
			"COOKIE_HASH_KEY":  "%%%",
			"COOKIE_BLOCK_KEY": base64.StdEncoding.EncodeToString(make([]byte, 16)),
		},
		"bad block size": {
			"COOKIE_HASH_KEY":  base64.StdEncoding.EncodeToString(make([]byte, 32)),
			"COOKIE_BLOCK_KEY": base64.StdEncoding.EncodeToString(make([]byte, 10)),
		},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

var now = time.Date(2026, 3, 1, 6, 30, 0, 0, time.FixedZone("CST", 8*3600))

func writeRun(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadRunTOML(t *testing.T) {
	p := writeRun(t, "run.toml", `
unit_id = "131"
dep_id = "362"
member_id = "m1"
unit_name = "City Hospital"
target_dates = ["2026-03-05", " 2026-03-06 "]
time_types = ["AM"]
doctor_ids = ["d1"]
preferred_hours = ["08:00-08:30"]
start_time = "07:00:00"
retry_interval = "500ms"
max_retries = 3
deadline = "2026-03-01T08:00:00+08:00"

[snipe]
enabled = true
watch_interval = "10s"
session_check_every = -1
`)
	cfg, err := LoadRun(p, now)
	require.NoError(t, err)

	assert.Equal(t, "131", cfg.Target.UnitID)
	assert.Equal(t, []string{"2026-03-05", "2026-03-06"}, cfg.Target.Dates)
	assert.Equal(t, []appointment.SessionType{appointment.SessionMorning}, cfg.Target.SessionTypes)
	assert.Equal(t, "City Hospital", cfg.Target.UnitName)
	assert.Equal(t, time.Date(2026, 3, 1, 7, 0, 0, 0, now.Location()), cfg.StartAt)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryInterval)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, grab.DefaultMaxConcurrency, cfg.MaxConcurrency)
	assert.True(t, cfg.Deadline.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	assert.True(t, cfg.Snipe.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Snipe.WatchInterval)
	assert.Equal(t, grab.DefaultRushInterval, cfg.Snipe.RushInterval)
	assert.Equal(t, grab.DefaultBurstDuration, cfg.Snipe.BurstDuration)
	assert.Equal(t, -1, cfg.Snipe.SessionCheckEvery)
}

func TestLoadRunYAML(t *testing.T) {
	p := writeRun(t, "run.yml", `
unit_id: "131"
dep_id: "362"
member_id: m1
target_dates: ["2026-03-05"]
max_concurrency: 2
start_time: "2026-03-01T07:00:00+08:00"
snipe:
  enabled: true
  rush_interval: 250ms
  burst_duration: 2m
`)
	cfg, err := LoadRun(p, now)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxConcurrency)
	assert.True(t, cfg.StartAt.Equal(time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, 250*time.Millisecond, cfg.Snipe.RushInterval)
	assert.Equal(t, 2*time.Minute, cfg.Snipe.BurstDuration)
	assert.Equal(t, grab.DefaultSessionCheckEvery, cfg.Snipe.SessionCheckEvery)
	assert.Equal(t, grab.DefaultRetryInterval, cfg.RetryInterval)
}

func TestLoadRunErrors(t *testing.T) {
	cases := map[string]struct{ name, body, want string }{
		"extension":  {"run.json", `{}`, "unsupported"},
		"syntax":     {"run.toml", `unit_id = `, "parse run file"},
		"duration":   {"run.yaml", "retry_interval: fast\n", "invalid duration"},
		"missing id": {"run.yaml", "dep_id: \"1\"\nmember_id: m\ntarget_dates: [\"2026-03-05\"]\n", "unit_id"},
		"bad date":   {"run.yaml", "unit_id: \"1\"\ndep_id: \"1\"\nmember_id: m\ntarget_dates: [\"03/05\"]\n", "invalid target date"},
		"bad start":  {"run.yaml", "unit_id: \"1\"\ndep_id: \"1\"\nmember_id: m\ntarget_dates: [\"2026-03-05\"]\nstart_time: noon\n", "start_time"},
		"deadline":   {"run.yaml", "unit_id: \"1\"\ndep_id: \"1\"\nmember_id: m\ntarget_dates: [\"2026-03-05\"]\ndeadline: tomorrow\n", "deadline"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadRun(writeRun(t, tc.name, tc.body), now)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := LoadRun(filepath.Join(t.TempDir(), "missing.toml"), now)
	assert.Error(t, err)
}

func TestParseStartTime(t *testing.T) {
	got, err := ParseStartTime("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = ParseStartTime("23:59:59", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 23, 59, 59, 0, now.Location()), got)

	_, err = ParseStartTime("25:00:00", now)
	assert.Error(t, err)
}
