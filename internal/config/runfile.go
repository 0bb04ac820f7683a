package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/example/slotgrab/internal/domain/appointment"
	"github.com/example/slotgrab/internal/grab"
)

// Duration is a Go duration string in run files, e.g. "300ms" or "30s".
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type snipeFile struct {
	Enabled           bool     `toml:"enabled" yaml:"enabled"`
	WatchInterval     Duration `toml:"watch_interval" yaml:"watch_interval"`
	RushInterval      Duration `toml:"rush_interval" yaml:"rush_interval"`
	BurstDuration     Duration `toml:"burst_duration" yaml:"burst_duration"`
	SessionCheckEvery int      `toml:"session_check_every" yaml:"session_check_every"`
}

// RunFile is the on-disk shape of a run definition.
type RunFile struct {
	UnitID     string `toml:"unit_id" yaml:"unit_id"`
	DepID      string `toml:"dep_id" yaml:"dep_id"`
	MemberID   string `toml:"member_id" yaml:"member_id"`
	UnitName   string `toml:"unit_name" yaml:"unit_name"`
	DepName    string `toml:"dep_name" yaml:"dep_name"`
	MemberName string `toml:"member_name" yaml:"member_name"`

	TargetDates    []string `toml:"target_dates" yaml:"target_dates"`
	TimeTypes      []string `toml:"time_types" yaml:"time_types"`
	DoctorIDs      []string `toml:"doctor_ids" yaml:"doctor_ids"`
	PreferredHours []string `toml:"preferred_hours" yaml:"preferred_hours"`

	StartTime      string    `toml:"start_time" yaml:"start_time"`
	MaxConcurrency int       `toml:"max_concurrency" yaml:"max_concurrency"`
	RetryInterval  Duration  `toml:"retry_interval" yaml:"retry_interval"`
	MaxRetries     int       `toml:"max_retries" yaml:"max_retries"`
	Deadline       string    `toml:"deadline" yaml:"deadline"`
	Snipe          snipeFile `toml:"snipe" yaml:"snipe"`
}

// LoadRun reads a run file, choosing the format by extension (.toml, .yaml, .yml).
// now anchors a bare HH:MM:SS start time to today.
func LoadRun(path string, now time.Time) (grab.RunConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return grab.RunConfig{}, fmt.Errorf("read run file: %w", err)
	}
	var rf RunFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(b, &rf)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &rf)
	default:
		return grab.RunConfig{}, fmt.Errorf("unsupported run file extension %q (want .toml, .yaml or .yml)", ext)
	}
	if err != nil {
		return grab.RunConfig{}, fmt.Errorf("parse run file %s: %w", path, err)
	}
	return rf.RunConfig(now)
}

// RunConfig converts the file into a validated run config with defaults applied.
func (rf RunFile) RunConfig(now time.Time) (grab.RunConfig, error) {
	target := appointment.Target{
		UnitID:          strings.TrimSpace(rf.UnitID),
		DepartmentID:    strings.TrimSpace(rf.DepID),
		BeneficiaryID:   strings.TrimSpace(rf.MemberID),
		Dates:           trimAll(rf.TargetDates),
		DoctorIDs:       trimAll(rf.DoctorIDs),
		PreferredHours:  trimAll(rf.PreferredHours),
		UnitName:        rf.UnitName,
		DepartmentName:  rf.DepName,
		BeneficiaryName: rf.MemberName,
	}
	for _, tt := range trimAll(rf.TimeTypes) {
		target.SessionTypes = append(target.SessionTypes, appointment.SessionType(strings.ToLower(tt)))
	}

	cfg := grab.RunConfig{
		Target:         target,
		MaxConcurrency: rf.MaxConcurrency,
		RetryInterval:  time.Duration(rf.RetryInterval),
		MaxRetries:     rf.MaxRetries,
		Snipe: grab.SnipeConfig{
			Enabled:           rf.Snipe.Enabled,
			WatchInterval:     time.Duration(rf.Snipe.WatchInterval),
			RushInterval:      time.Duration(rf.Snipe.RushInterval),
			BurstDuration:     time.Duration(rf.Snipe.BurstDuration),
			SessionCheckEvery: rf.Snipe.SessionCheckEvery,
		},
	}

	var err error
	if cfg.StartAt, err = ParseStartTime(rf.StartTime, now); err != nil {
		return grab.RunConfig{}, err
	}
	if d := strings.TrimSpace(rf.Deadline); d != "" {
		if cfg.Deadline, err = time.Parse(time.RFC3339, d); err != nil {
			return grab.RunConfig{}, fmt.Errorf("invalid deadline %q (want RFC3339)", d)
		}
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return grab.RunConfig{}, err
	}
	return cfg, nil
}

// ParseStartTime accepts HH:MM:SS on now's date and zone, or RFC3339. Empty is zero.
func ParseStartTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("15:04:05", s, now.Location()); err == nil {
		y, m, d := now.Date()
		return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, now.Location()), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid start_time %q (want HH:MM:SS or RFC3339)", s)
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
