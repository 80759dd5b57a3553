package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/ipsafe/internal/config"
	"github.com/hamed0406/ipsafe/internal/domain"
	"github.com/hamed0406/ipsafe/internal/gate"
	"github.com/hamed0406/ipsafe/internal/probe"
	"github.com/hamed0406/ipsafe/internal/repo"
)

// SafetyChecker is the probe-with-retries step of the gate.
type SafetyChecker interface {
	Check(ctx context.Context, cfg config.Config) error
}

// Monitor probes the configured test URL on an interval and keeps a history.
type Monitor struct {
	Logger   *zap.Logger
	Config   gate.ConfigSource
	Checker  SafetyChecker
	Results  repo.CheckStore
	Alerter  *Alerter // optional
	Interval time.Duration

	mu sync.Mutex // one probe at a time
}

func NewMonitor(
	logger *zap.Logger,
	src gate.ConfigSource,
	checker SafetyChecker,
	results repo.CheckStore,
	alerter *Alerter,
	interval time.Duration,
) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval < 0 {
		interval = 0
	}
	return &Monitor{
		Logger:   logger,
		Config:   src,
		Checker:  checker,
		Results:  results,
		Alerter:  alerter,
		Interval: interval,
	}
}

// Run starts the loop. It does an immediate pass, then runs each tick.
// Stops when ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if m.Interval == 0 {
		// disabled
		m.Logger.Info("monitor_disabled")
		return
	}
	t := time.NewTicker(m.Interval)
	defer t.Stop()

	// immediate pass
	_, _ = m.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			m.Logger.Info("monitor_stopped")
			return
		case <-t.C:
			_, _ = m.RunOnce(ctx)
		}
	}
}

// RunOnce probes once, stores the result and feeds the alerter. A probe
// failure is a result, not an error; the error is for storage problems.
func (m *Monitor) RunOnce(ctx context.Context) (*domain.CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := config.Defaults()
	if m.Config != nil {
		cfg = m.Config.Load()
	}

	start := time.Now()
	err := m.Checker.Check(ctx, cfg)
	cr := &domain.CheckResult{
		URL:       cfg.TestURL,
		Safe:      err == nil,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		cr.Reason = err.Error()
		var se *probe.StatusError
		if errors.As(err, &se) {
			cr.HTTPStatus = se.Code
		}
	}

	if err := m.Results.Append(ctx, cr); err != nil {
		m.Logger.Warn("monitor_append_error", zap.String("url", cr.URL), zap.Error(err))
		return cr, err
	}
	m.Logger.Debug("monitor_checked",
		zap.String("url", cr.URL),
		zap.Bool("safe", cr.Safe),
		zap.Int("status", cr.HTTPStatus),
		zap.Float64("latency_ms", cr.LatencyMS),
		zap.String("reason", cr.Reason),
	)

	if m.Alerter != nil {
		if sent, err := m.Alerter.Observe(ctx, *cr); err != nil {
			m.Logger.Warn("monitor_alert_error", zap.String("url", cr.URL), zap.Error(err))
		} else if sent {
			m.Logger.Info("monitor_alert_sent", zap.String("url", cr.URL), zap.Bool("safe", cr.Safe))
		}
	}
	return cr, nil
}
