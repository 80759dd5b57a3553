package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hamed0406/ipsafe/internal/domain"
	"github.com/hamed0406/ipsafe/internal/repo"
)

// maxRows bounds each in-memory history; the oldest rows are dropped first.
const maxRows = 1000

type Store struct {
	mu        sync.RWMutex
	nextID    int64
	checks    []domain.CheckResult
	decisions []domain.Decision
	alerts    map[string]repo.AlertRecord
}

func New() *Store {
	return &Store{
		checks:    make([]domain.CheckResult, 0, 128),
		decisions: make([]domain.Decision, 0, 128),
		alerts:    make(map[string]repo.AlertRecord),
	}
}

// ---- CheckStore ----

func (m *Store) Append(ctx context.Context, r *domain.CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	if r.CheckedAt.IsZero() {
		r.CheckedAt = time.Now().UTC()
	}
	m.checks = append(m.checks, *r)
	if len(m.checks) > maxRows {
		m.checks = append(m.checks[:0:0], m.checks[len(m.checks)-maxRows:]...)
	}
	return nil
}

func (m *Store) Latest(ctx context.Context) (*domain.CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.checks) == 0 {
		return nil, nil
	}
	r := m.checks[len(m.checks)-1]
	return &r, nil
}

func (m *Store) Recent(ctx context.Context, limit int) ([]domain.CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.checks, limit), nil
}

// ---- DecisionStore ----

func (m *Store) Record(ctx context.Context, d *domain.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	d.ID = m.nextID
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	m.decisions = append(m.decisions, *d)
	if len(m.decisions) > maxRows {
		m.decisions = append(m.decisions[:0:0], m.decisions[len(m.decisions)-maxRows:]...)
	}
	return nil
}

func (m *Store) Decisions(ctx context.Context, limit int) ([]domain.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.decisions, limit), nil
}

// ---- AlertStore ----

func (m *Store) Get(ctx context.Context, url string) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alerts[url]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Store) Set(ctx context.Context, url string, safe bool, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ts *time.Time
	if !sentAt.IsZero() {
		ts = &sentAt
	}
	m.alerts[url] = repo.AlertRecord{URL: url, LastSafe: safe, LastSentAt: ts}
	return nil
}

func newestFirst[T any](rows []T, limit int) []T {
	if limit <= 0 {
		limit = repo.DefaultLimit
	}
	n := min(limit, len(rows))
	out := make([]T, 0, n)
	for i := len(rows) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, rows[i])
	}
	return out
}
