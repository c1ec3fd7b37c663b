package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Ledger records sync runs and the service tokens they issued. Tokens are
// stored as bcrypt hashes only.
type Ledger struct {
	DB     *sql.DB
	Driver Driver
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int

	now func() time.Time
}

type Run struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Courses    int
	Failures   int
}

const (
	RunRunning     = "running"
	RunOK          = "ok"
	RunPartial     = "partial"
	RunInterrupted = "interrupted"
	RunFailed      = "failed"
)

func OpenLedger(ctx context.Context, driver Driver, dsn string) (*Ledger, error) {
	conn, err := Connect(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	schema := ledgerSQLite
	if driver == DriverPostgres {
		schema = ledgerPostgres
	}
	if err := Migrate(ctx, conn, schema); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Ledger{DB: conn, Driver: driver, now: time.Now}, nil
}

func (l *Ledger) Close() error { return l.DB.Close() }

func (l *Ledger) q(s string) string { return Rebind(l.Driver, s) }

func (l *Ledger) StartRun(ctx context.Context) (int64, error) {
	var id int64
	err := l.DB.QueryRowContext(ctx, l.q(`INSERT INTO sync_runs (started_at, status) VALUES (?, ?) RETURNING id`),
		l.now().Unix(), RunRunning).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: start run: %w", err)
	}
	return id, nil
}

func (l *Ledger) FinishRun(ctx context.Context, id int64, status string, courses, failures int) error {
	res, err := l.DB.ExecContext(ctx, l.q(`
		UPDATE sync_runs SET finished_at=?, status=?, courses=?, failures=?
		 WHERE id=?`), l.now().Unix(), status, courses, failures, id)
	if err != nil {
		return fmt.Errorf("ledger: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger: run %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

// RecordToken stores the hash of a grader service token issued by run.
func (l *Ledger) RecordToken(ctx context.Context, runID int64, courseID, grader, token string) error {
	cost := l.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return fmt.Errorf("ledger: hash token: %w", err)
	}
	_, err = l.DB.ExecContext(ctx, l.q(`
		INSERT INTO service_tokens (run_id, course_id, grader, token_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`), runID, courseID, grader, string(hash), l.now().Unix())
	if err != nil {
		return fmt.Errorf("ledger: record token: %w", err)
	}
	return nil
}

// VerifyToken reports whether token is the latest one issued for courseID.
func (l *Ledger) VerifyToken(ctx context.Context, courseID, token string) (bool, error) {
	var hash string
	err := l.DB.QueryRowContext(ctx, l.q(`
		SELECT token_hash FROM service_tokens WHERE course_id=? ORDER BY id DESC LIMIT 1`), courseID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil, nil
}

// Runs returns the most recent runs first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.DB.QueryContext(ctx, l.q(`
		SELECT id, started_at, finished_at, status, courses, failures
		  FROM sync_runs ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status, &r.Courses, &r.Failures); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(started, 0)
		if finished.Valid {
			t := time.Unix(finished.Int64, 0)
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const ledgerSQLite = `
CREATE TABLE IF NOT EXISTS sync_runs (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  started_at  INTEGER NOT NULL,
  finished_at INTEGER,
  status      TEXT NOT NULL,
  courses     INTEGER NOT NULL DEFAULT 0,
  failures    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS service_tokens (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id      INTEGER NOT NULL REFERENCES sync_runs(id) ON DELETE CASCADE,
  course_id   TEXT NOT NULL,
  grader      TEXT NOT NULL,
  token_hash  TEXT NOT NULL,
  created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS service_tokens_course ON service_tokens(course_id);
`

const ledgerPostgres = `
CREATE TABLE IF NOT EXISTS sync_runs (
  id          BIGSERIAL PRIMARY KEY,
  started_at  BIGINT NOT NULL,
  finished_at BIGINT,
  status      TEXT NOT NULL,
  courses     INTEGER NOT NULL DEFAULT 0,
  failures    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS service_tokens (
  id          BIGSERIAL PRIMARY KEY,
  run_id      BIGINT NOT NULL REFERENCES sync_runs(id) ON DELETE CASCADE,
  course_id   TEXT NOT NULL,
  grader      TEXT NOT NULL,
  token_hash  TEXT NOT NULL,
  created_at  BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS service_tokens_course ON service_tokens(course_id);
`
