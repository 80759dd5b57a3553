package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/ipsafe/internal/config"
	"github.com/hamed0406/ipsafe/internal/gate"
	"github.com/hamed0406/ipsafe/internal/logging"
	"github.com/hamed0406/ipsafe/internal/notify"
	"github.com/hamed0406/ipsafe/internal/repo"
	"github.com/hamed0406/ipsafe/internal/repo/postgres"
	"github.com/hamed0406/ipsafe/internal/repo/sqlite"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	out    *printer
	env    config.Runtime

	file       string
	initConfig bool
	force      bool
	showConfig bool
	showPath   bool

	code int
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		out:    newPrinter(stdout, stderr),
		env:    config.FromEnv(),
	}
	cmd := a.command()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		a.out.failure("Error:", err.Error())
		return 1
	}
	return a.code
}

func (a *app) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ipsafe <command...>",
		Short: "Network safety CLI: run a command only when the expected network is reachable",
		Example: `  ipsafe npm install
  ipsafe "ping -c 3 google.com"
  ipsafe --init`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.dispatch(cmd, args)
		},
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	// Flags end at the first positional so the wrapped command keeps its own.
	f := cmd.Flags()
	f.SetInterspersed(false)
	f.BoolVar(&a.initConfig, "init", false, "create the global configuration file")
	f.BoolVar(&a.force, "force", false, "with --init, overwrite an existing file")
	f.BoolVar(&a.showConfig, "config", false, "show the resolved configuration and where it comes from")
	f.BoolVar(&a.showPath, "config-path", false, "print the global config file path")
	f.StringVar(&a.file, "file", "", "use only this config file (disables discovery)")
	return cmd
}

func (a *app) dispatch(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(logging.Options{Dir: a.env.LogDir, Level: a.env.LogLevel, Console: a.stderr})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path := a.file
	if path == "" {
		path = a.env.ConfigPath
	}
	loader := config.NewLoader(path, logger)

	switch {
	case a.initConfig:
		a.code = a.handleInit(loader)
		return nil
	case a.showConfig:
		a.code = a.out.configInfo(loader.Info())
		return nil
	case a.showPath:
		a.out.plain(loader.GlobalPath())
		return nil
	case len(args) == 0:
		_ = cmd.Help()
		a.code = 1
		return nil
	}

	a.code = a.gated(logger, loader.Load(), args)
	return nil
}

func (a *app) handleInit(loader *config.Loader) int {
	p, err := loader.InitGlobal(a.force)
	if err != nil {
		a.out.failure("", err.Error())
		return 1
	}
	a.out.success("Global config created at:", p)
	a.out.hint("Edit this file to customize your network checks")
	return 0
}

func (a *app) gated(logger *zap.Logger, cfg config.Config, args []string) int {
	ctx := context.Background()

	g := gate.New(gate.Static(cfg), logger)
	g.Executor.Stdin = a.stdin
	g.Executor.Stdout = a.stdout
	g.Executor.Stderr = a.stderr
	if s := notify.NewSlack(a.env.SlackWebhook); s != nil {
		g.Notifier = s
	}
	if store, closeStore := openDecisionStore(ctx, a.env, logger); store != nil {
		defer closeStore()
		g.Decisions = store
	}
	g.BeforeExec = func(command string, _ config.Config) {
		a.out.success("Network connectivity verified", "")
		a.out.executing(command)
	}

	a.out.checking(cfg.TestURL)
	_, err := g.Run(ctx, args)
	switch gate.StageOf(err) {
	case "":
		a.out.done()
		return 0
	case gate.StageProbe:
		a.out.failure("Network connectivity failed:", err.Error())
		a.out.warn("Command not executed for safety")
	case gate.StageExec:
		a.out.failure("Command failed:", err.Error())
	default:
		a.out.failure("", err.Error())
	}
	return 1
}

// openDecisionStore is best effort: the gate runs without a decision log
// when no store is configured or it cannot be opened. DATABASE_URL wins
// over IPSAFE_HISTORY_DB.
func openDecisionStore(ctx context.Context, env config.Runtime, logger *zap.Logger) (repo.DecisionStore, func()) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	switch {
	case env.DatabaseURL != "":
		store, err := postgres.New(ctx, env.DatabaseURL, logger)
		if err != nil {
			logger.Warn("decision_store_unavailable", zap.Error(err))
			return nil, nil
		}
		if err := store.Migrate(ctx); err != nil {
			logger.Warn("decision_store_unavailable", zap.Error(err))
			store.Close()
			return nil, nil
		}
		return store, store.Close
	case env.HistoryDB != "":
		store, err := sqlite.Open(ctx, env.HistoryDB, logger)
		if err != nil {
			logger.Warn("decision_store_unavailable", zap.Error(err))
			return nil, nil
		}
		return store, store.Close
	}
	return nil, nil
}
