// Package sqlite is a single-file history store for machines without a
// PostgreSQL server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/hamed0406/ipsafe/internal/domain"
	"github.com/hamed0406/ipsafe/internal/repo"
)

var _ repo.CheckStore = (*Store)(nil)
var _ repo.DecisionStore = (*Store)(nil)
var _ repo.AlertStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS checks (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  url         TEXT NOT NULL,
  safe        INTEGER NOT NULL,
  http_status INTEGER NULL,
  latency_ms  REAL NOT NULL,
  reason      TEXT NOT NULL DEFAULT '',
  checked_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checks_checked_at ON checks (checked_at DESC);

CREATE TABLE IF NOT EXISTS decisions (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  command    TEXT NOT NULL,
  url        TEXT NOT NULL,
  allowed    INTEGER NOT NULL,
  exit_code  INTEGER NULL,
  reason     TEXT NOT NULL DEFAULT '',
  decided_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_decided_at ON decisions (decided_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
  url          TEXT PRIMARY KEY,
  last_safe    INTEGER NOT NULL,
  last_sent_at TIMESTAMP NULL
);
`

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open creates the file (and its directory) if needed and applies the schema.
func Open(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one writer; the CLI and the API never share a handle
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Debug("sqlite_ready", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

// ---- CheckStore ----

func (s *Store) Append(ctx context.Context, cr *domain.CheckResult) error {
	if cr.CheckedAt.IsZero() {
		cr.CheckedAt = time.Now().UTC()
	}
	var status sql.NullInt64
	if cr.HTTPStatus != 0 {
		status = sql.NullInt64{Int64: int64(cr.HTTPStatus), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO checks (url, safe, http_status, latency_ms, reason, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cr.URL, cr.Safe, status, cr.LatencyMS, cr.Reason, cr.CheckedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert check: %w", err)
	}
	cr.ID, err = res.LastInsertId()
	return err
}

func (s *Store) Latest(ctx context.Context) (*domain.CheckResult, error) {
	rows, err := s.Recent(ctx, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]domain.CheckResult, error) {
	if limit <= 0 {
		limit = repo.DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, safe, http_status, latency_ms, reason, checked_at
		   FROM checks
		  ORDER BY id DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent checks: %w", err)
	}
	defer rows.Close()

	var out []domain.CheckResult
	for rows.Next() {
		var (
			r      domain.CheckResult
			status sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.URL, &r.Safe, &status, &r.LatencyMS, &r.Reason, &r.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		if status.Valid {
			r.HTTPStatus = int(status.Int64)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- DecisionStore ----

func (s *Store) Record(ctx context.Context, d *domain.Decision) error {
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	var code sql.NullInt64
	if d.ExitCode != nil {
		code = sql.NullInt64{Int64: int64(*d.ExitCode), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (command, url, allowed, exit_code, reason, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.Command, d.URL, d.Allowed, code, d.Reason, d.DecidedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	d.ID, err = res.LastInsertId()
	return err
}

func (s *Store) Decisions(ctx context.Context, limit int) ([]domain.Decision, error) {
	if limit <= 0 {
		limit = repo.DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, url, allowed, exit_code, reason, decided_at
		   FROM decisions
		  ORDER BY id DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		var (
			d    domain.Decision
			code sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.Command, &d.URL, &d.Allowed, &code, &d.Reason, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if code.Valid {
			c := int(code.Int64)
			d.ExitCode = &c
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---- AlertStore ----

func (s *Store) Get(ctx context.Context, url string) (*repo.AlertRecord, error) {
	r := repo.AlertRecord{URL: url}
	var sent sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT last_safe, last_sent_at FROM alerts WHERE url = ?`, url,
	).Scan(&r.LastSafe, &sent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sent.Valid {
		t := sent.Time
		r.LastSentAt = &t
	}
	return &r, nil
}

func (s *Store) Set(ctx context.Context, url string, safe bool, sentAt time.Time) error {
	var sent sql.NullTime
	if !sentAt.IsZero() {
		sent = sql.NullTime{Time: sentAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (url, last_safe, last_sent_at) VALUES (?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET last_safe = excluded.last_safe, last_sent_at = excluded.last_sent_at`,
		url, safe, sent,
	)
	return err
}
