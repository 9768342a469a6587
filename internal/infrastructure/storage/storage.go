// Package storage provides database access for the reconciliation backend.
//
// Production runs against the company's PostgreSQL database (pgx driver);
// local snapshots and the test suite use SQLite. All SQL is written with ?
// placeholders and rebound for PostgreSQL, and the handful of dialect
// differences live in migrations.go.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Storage implements Repository over database/sql.
type Storage struct {
	db      *sql.DB
	dialect dialect
}

// Compile-time check that Storage implements Repository.
var _ Repository = (*Storage)(nil)

// Open connects using the given driver ("postgres" or "sqlite") and DSN,
// and runs any pending migrations. A connection failure surfaces here,
// before any batch work starts.
func Open(driver, dsn string) (*Storage, error) {
	var (
		db  *sql.DB
		d   dialect
		err error
	)

	switch driver {
	case "postgres":
		db, err = sql.Open("pgx", dsn)
		d = dialectPostgres
	case "sqlite", "sqlite3":
		db, err = sql.Open("sqlite3", dsn)
		d = dialectSQLite
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	if d == dialectSQLite {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Storage{db: db, dialect: d}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $1..$n for PostgreSQL.
func (s *Storage) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// isUniqueViolation reports whether err is a unique-constraint failure from
// either driver. This is the expected idempotency path when re-running a
// batch, not an exceptional one.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}

	return false
}

const dateLayout = "2006-01-02"

// formatDate renders a date the way both dialects store it.
func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// parseDateValue converts a scanned date column to time.Time. PostgreSQL
// DATE columns scan as time.Time, SQLite TEXT columns as string or []byte.
func parseDateValue(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case string:
		return parseDateString(t)
	case []byte:
		return parseDateString(string(t))
	default:
		return time.Time{}, fmt.Errorf("unexpected date column type %T", v)
	}
}

func parseDateString(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	// Timestamps sneak into date columns in old snapshots; keep the date part.
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	return time.Parse(dateLayout, s)
}

// textValue converts a scanned text-ish column (string, []byte, timestamp,
// or NULL).
func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return ""
	}
}
