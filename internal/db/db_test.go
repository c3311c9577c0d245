package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `UPDATE jobs SET state=? WHERE id=? AND state=?`
	assert.Equal(t, q, Rebind(SQLite, q))
	assert.Equal(t, `UPDATE jobs SET state=$1 WHERE id=$2 AND state=$3`, Rebind(Postgres, q))
}

func TestParseDialect(t *testing.T) {
	for _, in := range []string{"", "sqlite", "SQLite3"} {
		d, err := ParseDialect(in)
		require.NoError(t, err)
		assert.Equal(t, SQLite, d)
	}
	for _, in := range []string{"postgres", "postgresql", "pgx"} {
		d, err := ParseDialect(in)
		require.NoError(t, err)
		assert.Equal(t, Postgres, d)
	}
	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: permits.job_id")))
}

func TestOpenSQLiteInWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, d, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, SQLite, d)
	require.NoError(t, conn.Ping())
	assert.FileExists(t, Path(dir))

	_, _, err = Open(Config{Driver: "postgres"})
	assert.Error(t, err)
}
