package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/ipsafe/internal/config"
	"github.com/hamed0406/ipsafe/internal/gate"
	"github.com/hamed0406/ipsafe/internal/httpapi"
	apimw "github.com/hamed0406/ipsafe/internal/httpapi/middleware"
	"github.com/hamed0406/ipsafe/internal/logging"
	"github.com/hamed0406/ipsafe/internal/notify"
	"github.com/hamed0406/ipsafe/internal/repo"
	"github.com/hamed0406/ipsafe/internal/repo/memory"
	"github.com/hamed0406/ipsafe/internal/repo/postgres"
	"github.com/hamed0406/ipsafe/internal/repo/sqlite"
	"github.com/hamed0406/ipsafe/internal/scheduler"
)

// stores is what the service needs from a persistence adapter.
type stores interface {
	repo.CheckStore
	repo.DecisionStore
	repo.AlertStore
}

func main() {
	cfg := config.FromEnv()
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Network safety service: periodic probe, history and live checks over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address (API_ADDR)")
	cmd.Flags().DurationVar(&cfg.CheckInterval, "interval", cfg.CheckInterval, "probe interval, 0 disables (CHECK_INTERVAL_MS)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, cfg config.Runtime) error {
	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	logger, err := logging.New(logging.Options{Dir: cfg.LogDir, Level: level})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var store stores
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store = pg
		logger.Info("store_postgres")
	} else if cfg.HistoryDB != "" {
		lite, err := sqlite.Open(ctx, cfg.HistoryDB, logger)
		if err != nil {
			return err
		}
		defer lite.Close()
		store = lite
		logger.Info("store_sqlite", zap.String("path", cfg.HistoryDB))
	} else {
		store = memory.New()
		logger.Info("store_memory")
	}

	notifiers := notify.Multi{notify.Log{Logger: logger}}
	if s := notify.NewSlack(cfg.SlackWebhook); s != nil {
		notifiers = append(notifiers, s)
	}

	src := config.NewLoader(cfg.ConfigPath, logger)
	g := gate.New(src, logger)
	g.Diagnose = true
	alerter := scheduler.NewAlerter(store, notifiers, scheduler.AlerterConfig{
		AlertOnRecovery: true,
		Cooldown:        5 * time.Minute,
	}, logger)
	mon := scheduler.NewMonitor(logger, src, g, store, alerter, cfg.CheckInterval)
	go mon.Run(ctx)

	api := httpapi.NewServer(logger, store, store, mon)
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr), zap.Duration("interval", cfg.CheckInterval))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("api_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
