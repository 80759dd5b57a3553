package gate

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/ipsafe/internal/config"
	"github.com/hamed0406/ipsafe/internal/domain"
	"github.com/hamed0406/ipsafe/internal/executor"
	"github.com/hamed0406/ipsafe/internal/notify"
	"github.com/hamed0406/ipsafe/internal/probe"
	"github.com/hamed0406/ipsafe/internal/repo"
)

// ConfigSource resolves the configuration for one run.
type ConfigSource interface {
	Load() config.Config
}

// Static is a ConfigSource that always returns the same configuration.
type Static config.Config

func (s Static) Load() config.Config { return config.Config(s).Clone() }

// Gate runs a command only after the connectivity probe succeeds.
type Gate struct {
	Config     ConfigSource
	Prober     probe.Checker // single attempt; retries are added by Check
	RetryDelay time.Duration
	Executor   *executor.Executor
	Logger     *zap.Logger

	// Optional collaborators. Failures here are logged and never change a result.
	Decisions repo.DecisionStore
	Notifier  notify.Notifier
	Resolver  probe.Resolver

	// Diagnose enables a DNS lookup of the target host after transport and
	// timeout failures. It adds up to a few seconds to a failed check.
	Diagnose bool

	// BeforeExec, if set, is called once the probe passed and right before
	// the command is started.
	BeforeExec func(command string, cfg config.Config)
}

func New(src ConfigSource, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		Config:     src,
		Prober:     probe.NewHTTPChecker(logger),
		RetryDelay: probe.DefaultRetryDelay,
		Executor:   executor.New(logger),
		Logger:     logger,
	}
}

// Target converts a resolved configuration into a probe description.
func Target(c config.Config) probe.Target {
	return probe.Target{
		URL:             c.TestURL,
		Method:          c.Method,
		Timeout:         c.TimeoutDuration(),
		UserAgent:       c.UserAgent,
		Headers:         maps.Clone(c.Headers),
		CheckContent:    c.CheckContent,
		SearchText:      c.SearchText,
		SearchType:      probe.SearchType(c.SearchType),
		ResponseType:    probe.ResponseType(c.ResponseType),
		FollowRedirects: c.FollowRedirects,
		MaxRedirects:    c.MaxRedirects,
	}
}

// Run joins args into one command, probes, and executes only if the probe
// passed. Every returned error is a *Error.
func (g *Gate) Run(ctx context.Context, args []string) (executor.Outcome, error) {
	command := strings.TrimSpace(strings.Join(args, " "))
	if command == "" {
		return executor.Outcome{ExitCode: -1}, &Error{Stage: StageInput, Err: ErrNoCommand}
	}

	cfg := g.load()
	log := g.log().With(zap.String("run_id", uuid.NewString()))
	log.Info("gate_run", zap.String("command", command), zap.String("url", cfg.TestURL))

	if err := g.Check(ctx, cfg); err != nil {
		log.Warn("gate_blocked", zap.Error(err))
		d := domain.Decision{Command: command, URL: cfg.TestURL, Allowed: false, Reason: err.Error()}
		g.record(ctx, d)
		g.announce(ctx, d)
		return executor.Outcome{ExitCode: -1}, &Error{Stage: StageProbe, Err: err}
	}

	if g.BeforeExec != nil {
		g.BeforeExec(command, cfg)
	}
	out, err := g.executor().Execute(ctx, command, cfg.CommandTimeoutDuration())
	d := domain.Decision{Command: command, URL: cfg.TestURL, Allowed: true}
	if out.ExitCode >= 0 {
		code := out.ExitCode
		d.ExitCode = &code
	}
	if err != nil {
		d.Reason = err.Error()
	}
	log.Info("gate_done", zap.String("outcome", d.Outcome()), zap.Duration("duration", out.Duration))
	g.record(ctx, d)
	if err != nil {
		return out, &Error{Stage: StageExec, Err: err}
	}
	return out, nil
}

// Check validates cfg and runs the probe with retries. It returns the last
// attempt's error, or every attempt's error when cfg.AggregateErrors is set.
func (g *Gate) Check(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", probe.ErrInvalidConfig, err)
	}
	rc := &probe.RetryChecker{
		Inner:     g.prober(),
		Retries:   cfg.Retries,
		Delay:     g.RetryDelay,
		Aggregate: cfg.AggregateErrors,
		Logger:    g.log(),
	}
	err := rc.Check(ctx, Target(cfg))
	if err != nil && g.Diagnose {
		g.diagnose(ctx, cfg.TestURL, err)
	}
	return err
}

// CheckNetworkSafe never fails: any probe error is logged and reported as false.
func (g *Gate) CheckNetworkSafe(ctx context.Context, cfg config.Config) bool {
	if err := g.Check(ctx, cfg); err != nil {
		g.log().Warn("network_check_failed", zap.String("url", cfg.TestURL), zap.Error(err))
		return false
	}
	return true
}

// Result is what ExecuteIfSafe reports.
type Result struct {
	Success bool
	Outcome *executor.Outcome
	Err     error
}

// ExecuteIfSafe runs command when the network is safe. The probe's own error
// is only logged; a blocked command reports ErrBlocked.
func (g *Gate) ExecuteIfSafe(ctx context.Context, command string, cfg config.Config) Result {
	if !g.CheckNetworkSafe(ctx, cfg) {
		return Result{Err: &Error{Stage: StageProbe, Err: ErrBlocked}}
	}
	out, err := g.executor().Execute(ctx, command, cfg.CommandTimeoutDuration())
	if err != nil {
		return Result{Outcome: &out, Err: &Error{Stage: StageExec, Err: err}}
	}
	return Result{Success: true, Outcome: &out}
}

func (g *Gate) load() config.Config {
	if g.Config == nil {
		return config.Defaults()
	}
	return g.Config.Load()
}

func (g *Gate) prober() probe.Checker {
	if g.Prober == nil {
		return probe.NewHTTPChecker(g.log())
	}
	return g.Prober
}

func (g *Gate) executor() *executor.Executor {
	if g.Executor == nil {
		return executor.New(g.log())
	}
	return g.Executor
}

func (g *Gate) log() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

// diagnose logs how the target host resolves after a network-level failure.
func (g *Gate) diagnose(ctx context.Context, url string, err error) {
	if k := probe.Kind(err); !errors.Is(k, probe.ErrTransport) && !errors.Is(k, probe.ErrTimeout) {
		return
	}
	st := probe.CheckDNS(ctx, g.Resolver, url)
	g.log().Warn("probe_dns_diagnostics",
		zap.String("domain", st.Domain),
		zap.String("class", st.Class),
		zap.Int("ips", len(st.IPs)),
		zap.String("cname", st.CNAME),
		zap.Strings("nameservers", st.Nameservers),
		zap.String("resolver_error", st.ResolverError),
	)
}

func (g *Gate) record(ctx context.Context, d domain.Decision) {
	if g.Decisions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.Decisions.Record(ctx, &d); err != nil {
		g.log().Warn("decision_record_failed", zap.String("command", d.Command), zap.Error(err))
	}
}

func (g *Gate) announce(ctx context.Context, d domain.Decision) {
	if g.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	title, text := notify.Blocked(d)
	if err := g.Notifier.Send(ctx, title, text); err != nil {
		g.log().Warn("blocked_notification_failed", zap.Error(err))
	}
}
