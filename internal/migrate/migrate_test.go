package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersions(t *testing.T) {
	for _, d := range []Dialect{Postgres, SQLite} {
		v, err := Versions(d)
		require.NoError(t, err)
		assert.Equal(t, []string{"0001_runs.sql"}, v, string(d))
	}
	_, err := Versions("mysql")
	assert.Error(t, err)
}

func TestStatements(t *testing.T) {
	got := statements("-- comment\nCREATE TABLE a (\n  id INT\n);\n\nCREATE INDEX i ON a (id);\nSELECT 1")
	assert.Equal(t, []string{
		"CREATE TABLE a (\n  id INT\n);",
		"CREATE INDEX i ON a (id);",
		"SELECT 1",
	}, got)
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "$1", Postgres.placeholder())
	assert.Equal(t, "?", SQLite.placeholder())
}
