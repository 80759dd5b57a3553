// cmd/preflight/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/ipsafe/internal/config"
	"github.com/hamed0406/ipsafe/internal/gate"
	"github.com/hamed0406/ipsafe/internal/logging"
)

// Exit codes for hooks and agents.
const (
	exitSafe   = 0
	exitUnsafe = 1
	exitError  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	code := exitError
	var service bool

	cmd := &cobra.Command{
		Use:   "preflight [config-path]",
		Short: "Print SAFE or UNSAFE for the configured network check (exit 0/1, 2 on error)",
		Args:  cobra.MaximumNArgs(1),

		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if service {
				// same view of the environment the api binary gets
				if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("load .env: %w", err)
				}
				code = checkServiceEnv(config.FromEnv(), stdout, stderr)
				return nil
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			c, err := checkNetwork(cmd.Context(), path, stderr)
			if err != nil {
				return err
			}
			if c == exitSafe {
				fmt.Fprintln(stdout, "SAFE")
			} else {
				fmt.Fprintln(stdout, "UNSAFE")
			}
			code = c
			return nil
		},
	}
	cmd.Flags().BoolVar(&service, "service", false, "check the API service environment instead of the network")
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(stderr, "ERROR:", err.Error())
		return exitError
	}
	return code
}

func checkNetwork(ctx context.Context, path string, stderr io.Writer) (int, error) {
	rt := config.FromEnv()
	logger, err := logging.New(logging.Options{Dir: rt.LogDir, Level: rt.LogLevel, Console: stderr})
	if err != nil {
		return exitError, err
	}
	defer func() { _ = logger.Sync() }()

	if path == "" {
		path = rt.ConfigPath
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return exitError, fmt.Errorf("config file: %w", err)
		}
	}
	cfg := config.NewLoader(path, logger).Load()

	g := gate.New(gate.Static(cfg), logger)
	if g.CheckNetworkSafe(ctx, cfg) {
		logger.Info("preflight_safe", zap.String("url", cfg.TestURL))
		return exitSafe, nil
	}
	return exitUnsafe, nil
}

// checkServiceEnv sanity-checks the environment the API service reads.
func checkServiceEnv(rt config.Runtime, stdout, stderr io.Writer) int {
	failed := false
	fail := func(msg string) {
		fmt.Fprintln(stderr, color.RedString("✖"), msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(stderr, color.YellowString("⚠"), msg) }
	ok := func(msg string) { fmt.Fprintln(stdout, color.GreenString("✔"), msg) }

	if len(rt.AdminAPIKeys) == 0 {
		fail("ADMIN_API_KEYS is empty (POST /api/check is open to everyone).")
	}
	if len(rt.PublicAPIKeys) == 0 {
		warn("PUBLIC_API_KEYS is empty (read routes accept admin keys only, or anyone if no keys are set).")
	}
	for name, v := range map[string]string{"ADMIN_API_KEYS": os.Getenv("ADMIN_API_KEYS"), "PUBLIC_API_KEYS": os.Getenv("PUBLIC_API_KEYS")} {
		if strings.Contains(strings.TrimSpace(v), " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	ok("API_ADDR=" + rt.Addr)

	switch {
	case rt.DatabaseURL != "":
		ok("DATABASE_URL present")
	case rt.HistoryDB != "":
		ok("IPSAFE_HISTORY_DB=" + rt.HistoryDB)
	default:
		warn("DATABASE_URL and IPSAFE_HISTORY_DB empty: API will use in-memory stores.")
	}
	if len(rt.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty: CORS allows every origin.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(rt.AllowedOrigins, ","))
	}
	if rt.SlackWebhook == "" {
		warn("SLACK_WEBHOOK_URL empty: transitions are only logged.")
	}
	if rt.CheckInterval == 0 {
		warn("CHECK_INTERVAL_MS=0: the monitor is disabled.")
	} else {
		ok("CHECK_INTERVAL_MS=" + fmt.Sprint(rt.CheckInterval.Milliseconds()))
	}

	if failed {
		return exitError
	}
	ok("preflight passed")
	return exitSafe
}
