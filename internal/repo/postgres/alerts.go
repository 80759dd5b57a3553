package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hamed0406/ipsafe/internal/repo"
)

func (s *Store) Get(ctx context.Context, url string) (*repo.AlertRecord, error) {
	const q = `SELECT last_safe, last_sent_at FROM alerts WHERE url=$1`
	r := repo.AlertRecord{URL: url}
	var lastSent *time.Time
	err := s.pool.QueryRow(ctx, q, url).Scan(&r.LastSafe, &lastSent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.LastSentAt = lastSent
	return &r, nil
}

func (s *Store) Set(ctx context.Context, url string, safe bool, sentAt time.Time) error {
	const q = `
		INSERT INTO alerts (url, last_safe, last_sent_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (url)
		DO UPDATE SET last_safe=EXCLUDED.last_safe, last_sent_at=EXCLUDED.last_sent_at
	`
	var ts *time.Time
	if !sentAt.IsZero() {
		ts = &sentAt
	}
	_, err := s.pool.Exec(ctx, q, url, safe, ts)
	return err
}
