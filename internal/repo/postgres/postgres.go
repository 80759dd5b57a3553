package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/ipsafe/internal/domain"
	"github.com/hamed0406/ipsafe/internal/repo"
)

var _ repo.CheckStore = (*Store)(nil)
var _ repo.DecisionStore = (*Store)(nil)
var _ repo.AlertStore = (*Store)(nil)

// Schema is applied by Migrate. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS checks (
  id          BIGSERIAL PRIMARY KEY,
  url         TEXT NOT NULL,
  safe        BOOLEAN NOT NULL,
  http_status INTEGER NULL,
  latency_ms  DOUBLE PRECISION NOT NULL,
  reason      TEXT NOT NULL DEFAULT '',
  checked_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checks_checked_at ON checks (checked_at DESC);

CREATE TABLE IF NOT EXISTS decisions (
  id         BIGSERIAL PRIMARY KEY,
  command    TEXT NOT NULL,
  url        TEXT NOT NULL,
  allowed    BOOLEAN NOT NULL,
  exit_code  INTEGER NULL,
  reason     TEXT NOT NULL DEFAULT '',
  decided_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_decided_at ON decisions (decided_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
  url          TEXT PRIMARY KEY,
  last_safe    BOOLEAN NOT NULL,
  last_sent_at TIMESTAMPTZ NULL
);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// Migrate creates the tables if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info("db_schema_ready")
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ---- CheckStore ----

func (s *Store) Append(ctx context.Context, cr *domain.CheckResult) error {
	if cr.CheckedAt.IsZero() {
		cr.CheckedAt = time.Now().UTC()
	}
	var statusPtr *int
	if cr.HTTPStatus != 0 {
		statusPtr = &cr.HTTPStatus
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO checks
		   (url, safe, http_status, latency_ms, reason, checked_at)
		 VALUES
		   ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		cr.URL, cr.Safe, statusPtr, cr.LatencyMS, cr.Reason, cr.CheckedAt,
	).Scan(&cr.ID)
	if err != nil {
		return fmt.Errorf("insert check: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context) (*domain.CheckResult, error) {
	rows, err := s.recentChecks(ctx, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]domain.CheckResult, error) {
	return s.recentChecks(ctx, limit)
}

func (s *Store) recentChecks(ctx context.Context, limit int) ([]domain.CheckResult, error) {
	if limit <= 0 {
		limit = repo.DefaultLimit
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, url, safe, http_status, latency_ms, reason, checked_at
  FROM checks
 ORDER BY checked_at DESC, id DESC
 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent checks: %w", err)
	}
	defer rows.Close()

	var out []domain.CheckResult
	for rows.Next() {
		var (
			r        domain.CheckResult
			httpNull sql.NullInt32
		)
		if err := rows.Scan(&r.ID, &r.URL, &r.Safe, &httpNull, &r.LatencyMS, &r.Reason, &r.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		if httpNull.Valid {
			r.HTTPStatus = int(httpNull.Int32)
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
	err := s.pool.QueryRow(ctx,
		`INSERT INTO decisions
		   (command, url, allowed, exit_code, reason, decided_at)
		 VALUES
		   ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		d.Command, d.URL, d.Allowed, d.ExitCode, d.Reason, d.DecidedAt,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *Store) Decisions(ctx context.Context, limit int) ([]domain.Decision, error) {
	if limit <= 0 {
		limit = repo.DefaultLimit
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, command, url, allowed, exit_code, reason, decided_at
  FROM decisions
 ORDER BY decided_at DESC, id DESC
 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		var (
			d        domain.Decision
			exitNull sql.NullInt32
		)
		if err := rows.Scan(&d.ID, &d.Command, &d.URL, &d.Allowed, &exitNull, &d.Reason, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		// per-row copy so the pointer doesn't alias the scan target
		if exitNull.Valid {
			code := int(exitNull.Int32)
			d.ExitCode = &code
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
