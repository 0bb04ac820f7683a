// Package config reads process settings from the environment and run
// definitions from TOML or YAML files.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/slotgrab/internal/diagstore"
	"github.com/example/slotgrab/internal/history"
	"github.com/example/slotgrab/internal/site"
)

type Config struct {
	LogLevel  string
	LogFormat string

	// site
	BaseURL     string
	GateURL     string
	UserURL     string
	HTTPTimeout time.Duration

	SessionFile    string
	CookieHashKey  []byte
	CookieBlockKey []byte

	// history
	HistoryDriver string
	DatabaseURL   string
	SQLitePath    string

	// diagnostics
	DiagDriver      string
	DiagDir         string
	DiagS3Bucket    string
	DiagS3Region    string
	DiagS3Endpoint  string
	DiagS3PathStyle bool

	// status server
	StatusAddr           string
	StatusUser           string
	StatusPasswordBcrypt string

	NotifyWebhookURL    string
	NotifyWebhookSecret string
}

// FromEnv reads the process environment after loading an optional .env file.
// Variables already set win over the file.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		LogLevel:             getenv("LOG_LEVEL", "info"),
		LogFormat:            getenv("LOG_FORMAT", "text"),
		BaseURL:              os.Getenv("SITE_BASE_URL"),
		GateURL:              os.Getenv("SITE_GATE_URL"),
		UserURL:              os.Getenv("SITE_USER_URL"),
		SessionFile:          getenv("SESSION_FILE", "cookies.json"),
		HistoryDriver:        strings.ToLower(getenv("HISTORY_DRIVER", string(history.DriverSQLite))),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		SQLitePath:           getenv("SQLITE_PATH", history.DefaultSQLitePath),
		DiagDriver:           strings.ToLower(getenv("DIAG_DRIVER", string(diagstore.DriverFilesystem))),
		DiagDir:              getenv("DIAG_DIR", "logs"),
		DiagS3Bucket:         os.Getenv("DIAG_S3_BUCKET"),
		DiagS3Region:         os.Getenv("DIAG_S3_REGION"),
		DiagS3Endpoint:       os.Getenv("DIAG_S3_ENDPOINT"),
		StatusAddr:           getenv("STATUS_ADDR", ":8080"),
		StatusUser:           os.Getenv("STATUS_USER"),
		StatusPasswordBcrypt: os.Getenv("STATUS_PASSWORD_BCRYPT"),
		NotifyWebhookURL:     os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookSecret:  os.Getenv("NOTIFY_WEBHOOK_SECRET"),
	}

	timeoutMS, err := strconv.Atoi(getenv("SITE_HTTP_TIMEOUT_MS", "10000"))
	if err != nil || timeoutMS < 1 {
		return Config{}, fmt.Errorf("invalid SITE_HTTP_TIMEOUT_MS")
	}
	cfg.HTTPTimeout = time.Duration(timeoutMS) * time.Millisecond

	if v := os.Getenv("DIAG_S3_PATH_STYLE"); v != "" {
		cfg.DiagS3PathStyle, err = strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DIAG_S3_PATH_STYLE: %w", err)
		}
	}

	switch history.Driver(cfg.HistoryDriver) {
	case history.DriverNone, history.DriverSQLite, history.DriverPostgres:
	default:
		return Config{}, fmt.Errorf("invalid HISTORY_DRIVER %q (want postgres, sqlite or none)", cfg.HistoryDriver)
	}

	// Keys are optional; they are only needed for sealed session files.
	hashKey := os.Getenv("COOKIE_HASH_KEY")
	blockKey := os.Getenv("COOKIE_BLOCK_KEY")
	if (hashKey == "") != (blockKey == "") {
		return Config{}, fmt.Errorf("COOKIE_HASH_KEY and COOKIE_BLOCK_KEY must be set together")
	}
	if hashKey != "" {
		if cfg.CookieHashKey, err = decodeKey(hashKey); err != nil {
			return Config{}, fmt.Errorf("COOKIE_HASH_KEY: %w", err)
		}
		if cfg.CookieBlockKey, err = decodeKey(blockKey); err != nil {
			return Config{}, fmt.Errorf("COOKIE_BLOCK_KEY: %w", err)
		}
		switch len(cfg.CookieBlockKey) {
		case 16, 24, 32:
		default:
			return Config{}, fmt.Errorf("COOKIE_BLOCK_KEY must decode to 16, 24 or 32 bytes")
		}
	}

	return cfg, nil
}

// HasCookieKeys reports whether sealed session files can be read.
func (c Config) HasCookieKeys() bool {
	return len(c.CookieHashKey) > 0 && len(c.CookieBlockKey) > 0
}

func (c Config) Site() site.Config {
	return site.Config{
		BaseURL: c.BaseURL,
		GateURL: c.GateURL,
		UserURL: c.UserURL,
		Timeout: c.HTTPTimeout,
	}
}

func (c Config) History() history.Config {
	return history.Config{
		Driver:      history.Driver(c.HistoryDriver),
		DatabaseURL: c.DatabaseURL,
		SQLitePath:  c.SQLitePath,
	}
}

func (c Config) Diagnostics() diagstore.Config {
	return diagstore.Config{
		Driver:      diagstore.Driver(c.DiagDriver),
		Dir:         c.DiagDir,
		S3Bucket:    c.DiagS3Bucket,
		S3Region:    c.DiagS3Region,
		S3Endpoint:  c.DiagS3Endpoint,
		S3PathStyle: c.DiagS3PathStyle,
	}
}

// decodeKey accepts base64 or a path to a file holding base64, as mounted secrets are.
func decodeKey(s string) ([]byte, error) {
	if b, err := os.ReadFile(s); err == nil {
		s = string(b)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty key")
	}
	dec, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return dec, nil
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
