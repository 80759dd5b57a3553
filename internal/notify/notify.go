package notify

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/ipsafe/internal/domain"
)

type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi fans out to every notifier and reports all failures.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var errs error
	for _, n := range m {
		if n == nil {
			continue
		}
		errs = multierr.Append(errs, n.Send(ctx, title, text))
	}
	return errs
}

// Log writes notifications to a zap logger; the fallback when no webhook is set.
type Log struct{ Logger *zap.Logger }

func (l Log) Send(_ context.Context, title, text string) error {
	if l.Logger != nil {
		l.Logger.Warn("notification", zap.String("title", title), zap.String("text", text))
	}
	return nil
}

// Blocked formats the notification for a command the gate refused to run.
func Blocked(d domain.Decision) (title, text string) {
	title = "ipsafe: command blocked"
	text = fmt.Sprintf("`%s` was not executed: %s is unreachable (%s)", d.Command, d.URL, d.Reason)
	return title, text
}

// Transition formats a safe <-> unsafe change seen by the monitor.
func Transition(r domain.CheckResult) (title, text string) {
	if r.Safe {
		return "ipsafe: network RECOVERED", fmt.Sprintf("%s is reachable again (%.0fms)", r.URL, r.LatencyMS)
	}
	return "ipsafe: network UNSAFE", fmt.Sprintf("%s failed the safety check: %s", r.URL, r.Reason)
}
