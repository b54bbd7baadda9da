package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-gridzone/internal/models"
)

// RunLister returns the most recent runs first.
type RunLister interface {
	List(ctx context.Context, limit int) ([]models.Run, error)
}

type Notifier interface {
	Send(msg string)
}

type RunWatcherConfig struct {
	Interval       time.Duration // e.g. 5*time.Minute
	DriftThreshold float64       // percent, e.g. 5.0
	Lookback       int           // runs fetched per check
	OnDrift        func(run, previous models.Run)
}

// RunWatcher polls archived runs and reports when a newly finished run ends
// more than DriftThreshold percent away from the previous run of the same
// name.
type RunWatcher struct {
	runs   RunLister
	notify Notifier
	cfg    RunWatcherConfig
	log    *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	primed  bool
	seen    map[uuid.UUID]bool
}

func NewRunWatcher(runs RunLister, notify Notifier, cfg RunWatcherConfig, log *zap.Logger) *RunWatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = 5
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RunWatcher{
		runs:   runs,
		notify: notify,
		cfg:    cfg,
		log:    log.Named("run-watcher"),
		seen:   make(map[uuid.UUID]bool),
	}
}

func (w *RunWatcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.log.Warn("already running")
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stop := w.stopCh
	w.mu.Unlock()

	go func() {
		w.tick()
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				w.tick()
			}
		}
	}()

	w.log.Info("started", zap.Duration("interval", w.cfg.Interval), zap.Float64("drift_threshold", w.cfg.DriftThreshold))
}

func (w *RunWatcher) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := w.CheckNow(ctx); err != nil {
		w.log.Error("run check failed", zap.Error(err))
	}
}

func (w *RunWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopCh)
	w.running = false
	w.log.Info("stopped")
}

func (w *RunWatcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// CheckNow inspects finished runs not seen before and returns how many
// drift alerts it raised. The first check only records what already exists.
func (w *RunWatcher) CheckNow(ctx context.Context) (int, error) {
	runs, err := w.runs.List(ctx, w.cfg.Lookback)
	if err != nil {
		return 0, fmt.Errorf("list runs: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	alerts := 0
	for i, run := range runs {
		if run.FinishedAt == nil || w.seen[run.ID] {
			continue
		}
		w.seen[run.ID] = true
		if !w.primed {
			continue
		}
		prev := previousRun(runs[i+1:], run.Name)
		if prev == nil || !run.HasDrifted(prev, w.cfg.DriftThreshold) {
			continue
		}

		alerts++
		msg := fmt.Sprintf("Run %q ended at %.2f (%+.2f%%), previous run ended at %.2f",
			run.Name, *run.EndingValue, run.ReturnPercent(), *prev.EndingValue)
		w.log.Warn("run result drifted",
			zap.String("run_id", run.ID.String()),
			zap.String("previous_id", prev.ID.String()),
			zap.Float64("ending_value", *run.EndingValue),
			zap.Float64("previous_value", *prev.EndingValue))
		if w.notify != nil {
			w.notify.Send(msg)
		}
		if w.cfg.OnDrift != nil {
			w.cfg.OnDrift(run, *prev)
		}
	}
	w.primed = true
	return alerts, nil
}

// previousRun finds the newest finished run named name with an ending value.
func previousRun(older []models.Run, name string) *models.Run {
	for i := range older {
		r := &older[i]
		if r.Name == name && r.FinishedAt != nil && r.EndingValue != nil {
			return r
		}
	}
	return nil
}
