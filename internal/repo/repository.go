package repo

import (
	"context"

	"github.com/hamed0406/ipsafe/internal/domain"
)

// DefaultLimit caps history queries when the caller passes limit <= 0.
const DefaultLimit = 50

// Ports (interfaces) — swap in any DB adapter later.
type CheckStore interface {
	Append(ctx context.Context, r *domain.CheckResult) error
	// Latest returns nil, nil when nothing has been recorded yet.
	Latest(ctx context.Context) (*domain.CheckResult, error)
	// Recent returns newest first.
	Recent(ctx context.Context, limit int) ([]domain.CheckResult, error)
}

type DecisionStore interface {
	Record(ctx context.Context, d *domain.Decision) error
	// Decisions returns newest first.
	Decisions(ctx context.Context, limit int) ([]domain.Decision, error)
}
