package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/ipsafe/internal/domain"
	"github.com/hamed0406/ipsafe/internal/notify"
	"github.com/hamed0406/ipsafe/internal/repo"
)

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
}

// Alerter turns safe/unsafe transitions into notifications. The AlertStore
// holds the last announced state per URL, so a restart doesn't re-announce
// it and a transition that could not be announced yet is retried on the next
// observation.
type Alerter struct {
	alertDB  repo.AlertStore
	notifier notify.Notifier
	cfg      AlerterConfig
	log      *zap.Logger
	now      func() time.Time
}

func NewAlerter(alertDB repo.AlertStore, notifier notify.Notifier, cfg AlerterConfig, log *zap.Logger) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Alerter{
		alertDB:  alertDB,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Observe compares r with the last announced state for its URL and notifies
// if needed. It reports whether a notification was sent.
func (a *Alerter) Observe(ctx context.Context, r domain.CheckResult) (bool, error) {
	rec, err := a.alertDB.Get(ctx, r.URL)
	if err != nil {
		return false, err
	}
	now := a.now()

	// First sighting: only an unsafe network is worth a message.
	if rec == nil && r.Safe {
		return false, a.alertDB.Set(ctx, r.URL, true, time.Time{})
	}
	if rec != nil && rec.LastSafe == r.Safe {
		return false, nil
	}

	var lastSent time.Time
	if rec != nil && rec.LastSentAt != nil {
		lastSent = *rec.LastSentAt
	}

	if r.Safe && !a.cfg.AlertOnRecovery {
		return false, a.alertDB.Set(ctx, r.URL, true, lastSent)
	}
	// Unsafe alerts wait out the cooldown; the stored state stays as it was
	// so the transition is still pending once the cooldown is over.
	// Recovery bypasses it.
	if !r.Safe && !lastSent.IsZero() && now.Sub(lastSent) < a.cfg.Cooldown {
		a.log.Debug("alert_deferred_cooldown", zap.String("url", r.URL), zap.Time("last_sent", lastSent))
		return false, nil
	}

	title, text := notify.Transition(r)
	if err := a.notifier.Send(ctx, title, text); err != nil {
		a.log.Warn("alert_send_failed", zap.String("url", r.URL), zap.Error(err))
		return false, fmt.Errorf("send alert for %s: %w", r.URL, err)
	}
	return true, a.alertDB.Set(ctx, r.URL, r.Safe, now)
}
