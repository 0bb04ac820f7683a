// Package migrate applies the embedded schema migrations in file name order,
// once each, recording applied versions in schema_migrations.
package migrate

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/example/slotgrab/internal/db"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Dialect selects a migration set and its placeholder style.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func (d Dialect) placeholder() string {
	if d == SQLite {
		return "?"
	}
	return "$1"
}

// Execer is the subset of a database handle migrations need. *db.DB satisfies it;
// the sqlite store adapts database/sql to it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) error
	QueryRow(ctx context.Context, sql string, args ...any) db.Row
}

// Versions lists the migration files of a dialect in apply order.
func Versions(d Dialect) ([]string, error) {
	entries, err := fs.ReadDir(files, string(d))
	if err != nil {
		return nil, fmt.Errorf("unknown migration dialect %q: %w", d, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func Up(ctx context.Context, x Execer, d Dialect) error {
	versions, err := Versions(d)
	if err != nil {
		return err
	}
	if err := x.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)`); err != nil {
		return err
	}

	ph := d.placeholder()
	for _, v := range versions {
		var applied bool
		if err := x.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=`+ph+`)`, v).Scan(&applied); err != nil {
			return err
		}
		if applied {
			continue
		}
		b, err := files.ReadFile(string(d) + "/" + v)
		if err != nil {
			return err
		}
		for _, stmt := range statements(string(b)) {
			if err := x.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply %s: %w", v, err)
			}
		}
		if err := x.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES (`+ph+`)`, v); err != nil {
			return err
		}
	}
	return nil
}

// statements splits a migration file on semicolons at line ends. The sqlite
// driver runs one statement per Exec.
func statements(sql string) []string {
	var out []string
	var cur strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}
