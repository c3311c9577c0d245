package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const defaultDBName = "permitline.db"

// Dialect names the SQL flavour behind a connection.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

type Config struct {
	Driver    string
	DSN       string
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".permitline", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".permitline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open opens the configured database. SQLite lives under the workspace unless
// a DSN is given; Postgres always needs a DSN.
func Open(cfg Config) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	switch dialect {
	case Postgres:
		if cfg.DSN == "" {
			return nil, "", errors.New("postgres driver requires a dsn")
		}
		conn, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, "", err
		}
		return conn, Postgres, nil
	default:
		dsn := cfg.DSN
		if dsn == "" {
			if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
				return nil, "", err
			}
			dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath(cfg.Workspace))
		}
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, "", err
		}
		// One connection keeps sqlite writes serialized.
		conn.SetMaxOpenConns(1)
		return conn, SQLite, nil
	}
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// Rebind rewrites ? placeholders to $n for Postgres.
func Rebind(d Dialect, query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
