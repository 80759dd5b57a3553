// internal/probe/retrychecker.go
package probe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultRetryDelay is the fixed pause between attempts.
const DefaultRetryDelay = time.Second

// RetryChecker runs Inner up to Retries+1 times with a fixed delay between
// attempts. Only the last attempt's error is returned unless Aggregate is set.
type RetryChecker struct {
	Inner     Checker
	Retries   int
	Delay     time.Duration
	Aggregate bool
	Logger    *zap.Logger
}

func (r *RetryChecker) Check(ctx context.Context, t Target) error {
	attempts := r.Retries + 1
	if attempts < 1 {
		attempts = 1
	}
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var all, last error
	for i := 0; i < attempts; i++ {
		last = r.Inner.Check(ctx, t)
		if last == nil {
			if i > 0 {
				log.Info("probe_recovered", zap.Int("attempt", i+1), zap.String("url", t.URL))
			}
			return nil
		}
		log.Debug("probe_attempt_failed",
			zap.Int("attempt", i+1),
			zap.Int("of", attempts),
			zap.String("url", t.URL),
			zap.Error(last),
		)
		if r.Aggregate {
			all = multierr.Append(all, fmt.Errorf("attempt %d: %w", i+1, last))
		}
		if i == attempts-1 {
			break
		}
		if !sleep(ctx, r.Delay) {
			break
		}
	}
	if r.Aggregate {
		return all
	}
	return last
}

// sleep waits d or until ctx is done; it reports whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
