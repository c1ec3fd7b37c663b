// Package db opens the SQL databases used by the hub: per-course sqlite
// gradebooks and the optional sync ledger (sqlite or Postgres via pgx).
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver accepts the usual aliases (sqlite3, pgx, postgresql).
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3", "":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pgx", "pgsql":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("db: unsupported driver %q (expected postgres/sqlite)", s)
}

func (d Driver) sqlName() string {
	if d == DriverPostgres {
		return "pgx"
	}
	return "sqlite"
}

// Connect opens a pool for driver/dsn, tunes it and pings with ctx.
func Connect(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver.sqlName(), dsn)
	if err != nil {
		return nil, err
	}
	switch driver {
	case DriverSQLite:
		// one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, `
			PRAGMA foreign_keys = ON;
			PRAGMA busy_timeout = 5000;
		`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragmas: %w", err)
		}
	}
	return db, nil
}

// Migrate runs an idempotent DDL script, falling back to one statement at a
// time for drivers that reject multi-statement Exec.
func Migrate(ctx context.Context, db *sql.DB, schema string) error {
	if _, err := db.ExecContext(ctx, schema); err == nil {
		return nil
	}
	for _, stmt := range splitSQL(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed at: %s\nerror: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// SQLiteFileDSN is the modernc DSN for a database file, created on demand.
func SQLiteFileDSN(path string) string {
	return "file:" + path + "?mode=rwc&_pragma=busy_timeout(5000)"
}

// Rebind turns ? placeholders into $n for Postgres.
func Rebind(d Driver, q string) string {
	if d != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitSQL(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p+";")
		}
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
