package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-gridzone/internal/api"
	"github.com/kjannette/trahn-gridzone/internal/config"
	"github.com/kjannette/trahn-gridzone/internal/db"
	"github.com/kjannette/trahn-gridzone/internal/logging"
	"github.com/kjannette/trahn-gridzone/internal/models"
	"github.com/kjannette/trahn-gridzone/internal/notifications"
	"github.com/kjannette/trahn-gridzone/internal/repository"
	"github.com/kjannette/trahn-gridzone/internal/scheduler"
)

const banner = `
╔══════════════════════════════════════╗
║     Grid Zone Run Server v0.3        ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if !cfg.HasDatabase() {
		fmt.Fprintln(os.Stderr, "DB_HOST is required to serve archived runs")
		os.Exit(1)
	}

	cfg.Print()

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	log.Info("connecting to database",
		zap.String("host", cfg.DBHost), zap.Int("port", cfg.DBPort), zap.String("name", cfg.DBName))
	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("database connect: %w", err)
	}
	defer func() {
		pool.Close()
		log.Info("database pool closed")
	}()

	if err := db.TestConnection(ctx, pool, log); err != nil {
		return err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Repos
	runs := repository.NewRunRepo(pool)
	srv := api.NewServer(api.Deps{
		Runs:     runs,
		History:  repository.NewHistoryRepo(pool),
		Grids:    repository.NewGridStateRepo(pool),
		DB:       pool,
		Gatherer: reg,
	}, cfg.APIPort, cfg.APIKey, cfg.CORSAllowOrigin, log)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Run watcher
	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName, log)
	var watcher *scheduler.RunWatcher
	if notify.Enabled() {
		watcher = scheduler.NewRunWatcher(runs, notify, scheduler.RunWatcherConfig{
			Interval:       5 * time.Minute,
			DriftThreshold: 5,
			OnDrift: func(r, prev models.Run) {
				log.Info("drift alert sent", zap.String("run", r.Name))
			},
		}, log)
		watcher.Start()
	} else {
		log.Info("run watcher skipped, no webhook configured")
	}

	log.Info("all services started")

	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}

	if watcher != nil {
		watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("api shutdown", zap.Error(err))
	}
	log.Info("shutdown complete")
	return nil
}
