package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-gridzone/internal/bot"
	"github.com/kjannette/trahn-gridzone/internal/broker"
	"github.com/kjannette/trahn-gridzone/internal/candles"
	"github.com/kjannette/trahn-gridzone/internal/config"
	"github.com/kjannette/trahn-gridzone/internal/db"
	"github.com/kjannette/trahn-gridzone/internal/history"
	"github.com/kjannette/trahn-gridzone/internal/logging"
	"github.com/kjannette/trahn-gridzone/internal/models"
	"github.com/kjannette/trahn-gridzone/internal/notifications"
	"github.com/kjannette/trahn-gridzone/internal/observability"
	"github.com/kjannette/trahn-gridzone/internal/repository"
	"github.com/kjannette/trahn-gridzone/internal/risk"
)

const banner = `
╔══════════════════════════════════════╗
║     Grid Zone Backtest v0.3          ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <run.yaml>\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}
	runPath := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	rc, err := config.LoadRun(runPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg.Print()

	stamp := time.Now().Format("20060102-150405")
	log, err := logging.NewWithFile(logging.RunPath(cfg.LogDir, runPath, stamp, ".log"), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	ending, err := run(cfg, rc, runPath, stamp, log)
	if err != nil {
		log.Error("backtest failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	fmt.Printf("Final Portfolio Value: %.2f\n", ending)
}

func run(cfg *config.Config, rc *config.RunConfig, runPath, stamp string, log *zap.Logger) (float64, error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bars, err := loadBars(rc, runPath)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("dataset %s has no bars in range", rc.Dataset)
	}
	log.Info("candles loaded",
		zap.String("dataset", rc.Dataset),
		zap.Int("bars", len(bars)),
		zap.Time("first", bars[0].Time),
		zap.Time("last", bars[len(bars)-1].Time))

	zone, err := rc.BuildZone()
	if err != nil {
		return 0, err
	}
	allow, err := rc.AllowedStatuses()
	if err != nil {
		return 0, err
	}
	sig, lookback, err := rc.BuildSignal()
	if err != nil {
		return 0, err
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg, cfg.MetricsNamespace)
	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName, log)

	pb := broker.NewPaperBroker(broker.PaperConfig{InitialCash: rc.Broker.InitCash, AutoOCO: rc.AutoOCO()}, log)

	opts := bot.Options{
		Signal:         sig,
		SignalLookback: lookback,
		RequireUpside:  rc.Strategy.Signal.RequireUpside,
		Portfolio:      pb,
		Notify:         notify,
		Metrics:        metrics,
	}
	limits := risk.Limits{
		MaxOpenGroups:     cfg.MaxOpenGrids,
		MaxOrderCash:      cfg.MaxOrderCash,
		StopLossPercent:   cfg.StopLossPercent,
		TakeProfitPercent: cfg.TakeProfitPercent,
	}
	if limits.Enabled() {
		opts.Guardian = risk.NewGuardian(limits, nil)
	}

	gb, err := bot.NewGridBot(bot.Params{
		Zone:           zone,
		Sizer:          rc.Sizer(),
		Stop:           rc.StopPolicy(),
		StaleAfterBars: rc.Strategy.StaleAfterBars,
	}, pb, history.NewTracker(allow...), log, opts)
	if err != nil {
		return 0, err
	}
	pb.OnStatus(gb.OnOrderStatus)

	exportPath := rc.History.Export
	if exportPath == "" {
		exportPath = logging.RunPath(cfg.LogDir, runPath, stamp, ".csv")
	}

	notify.Send(fmt.Sprintf("Backtest %q started: %d bars, %d grids between %.2f and %.2f",
		rc.Name, len(bars), zone.GridCount, zone.BottomPrice, zone.TopPrice))

	res, err := bot.NewSession(gb, pb, exportPath, log).Run(ctx, bars)
	if err != nil {
		return 0, err
	}

	last := bars[len(bars)-1].Close
	stats := pb.Stats(last)
	log.Info("portfolio",
		zap.Float64("cash", stats.Cash),
		zap.Float64("position", stats.Position),
		zap.Float64("value", stats.Value),
		zap.Float64("pnl_pct", stats.PnLPct),
		zap.Int("fills", stats.TotalFills),
		zap.Int("rejected", stats.Rejected))

	sum := res.Summary
	notify.Send(fmt.Sprintf("Backtest %q finished: value %.2f (%+.2f%%), %d recenters, %d orders, %d ledger rows",
		rc.Name, stats.Value, stats.PnLPct, sum.Recenters, sum.OrdersSubmitted, sum.LedgerEntries))

	if cfg.PersistRuns {
		if err := persist(ctx, cfg, rc, res, gb, stats.Value, metrics, log); err != nil {
			return stats.Value, err
		}
	}
	return stats.Value, nil
}

// loadBars reads the dataset, resolving a relative path against the run
// file's directory, and applies the date range.
func loadBars(rc *config.RunConfig, runPath string) ([]models.Bar, error) {
	path := rc.Dataset
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(runPath), path)
	}
	bars, err := candles.LoadCSV(path)
	if err != nil {
		return nil, err
	}
	from, to, err := rc.Dates()
	if err != nil {
		return nil, err
	}
	return candles.Dedupe(candles.Filter(bars, from, to)), nil
}

func persist(ctx context.Context, cfg *config.Config, rc *config.RunConfig, res bot.Result, gb *bot.GridBot,
	ending float64, metrics *observability.Metrics, log *zap.Logger) error {
	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("database connect: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	raw, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("encode run config: %w", err)
	}
	finished := res.FinishedAt
	sum := res.Summary
	run := &models.Run{
		ID:              res.RunID,
		Name:            rc.Name,
		Dataset:         rc.Dataset,
		StartedAt:       res.StartedAt,
		FinishedAt:      &finished,
		Bars:            sum.Bars,
		Recenters:       sum.Recenters,
		OrdersSubmitted: sum.OrdersSubmitted,
		LedgerEntries:   sum.LedgerEntries,
		InitialCash:     rc.Broker.InitCash,
		EndingValue:     &ending,
		ConfigJSON:      raw,
	}
	if err := repository.NewRunArchive(pool, log, metrics).Archive(ctx, run, gb.Tracker().Entries(), res.Grid); err != nil {
		return err
	}
	log.Info("run archived", zap.String("run_id", run.ID.String()), zap.Int("ledger_entries", sum.LedgerEntries))
	return nil
}
