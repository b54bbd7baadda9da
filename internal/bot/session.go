package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-gridzone/internal/models"
	"github.com/kjannette/trahn-gridzone/internal/strategy"
)

// Venue is an execution venue that matches resting orders against each new
// bar before the strategy sees it.
type Venue interface {
	Process(bar models.Bar)
}

// Result describes a finished session.
type Result struct {
	RunID      uuid.UUID           `json:"runId"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
	Summary    Summary             `json:"summary"`
	Grid       models.GridSnapshot `json:"grid"`
	ExportPath string              `json:"exportPath,omitempty"`
}

// Session feeds a price stream through a venue and a GridBot, then exports
// the ledger once the stream is exhausted.
type Session struct {
	mu         sync.Mutex
	bot        *GridBot
	venue      Venue
	exportPath string
	log        *zap.Logger
	running    bool
}

func NewSession(b *GridBot, venue Venue, exportPath string, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{bot: b, venue: venue, exportPath: exportPath, log: log.Named("session")}
}

// Run processes bars in order. Bars must have strictly increasing times.
// A ledger export failure is returned as an error together with the result.
func (s *Session) Run(ctx context.Context, bars []models.Bar) (Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("session already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	res := Result{RunID: uuid.New(), StartedAt: time.Now().UTC(), ExportPath: s.exportPath}
	z := s.bot.Zone()
	s.log.Info("session started",
		zap.String("run_id", res.RunID.String()),
		zap.Int("bars", len(bars)),
		zap.Int("grids", z.GridCount),
		zap.Float64("bottom", z.BottomPrice),
		zap.Float64("top", z.TopPrice))
	s.log.Info("\n" + strategy.FormatGridDisplay(&z, s.bot.Bars()))

	var prev time.Time
	for i, bar := range bars {
		if i > 0 && !bar.Time.After(prev) {
			return s.finish(res), fmt.Errorf("bar %d at %s is not after %s", i, bar.Time.Format(time.RFC3339), prev.Format(time.RFC3339))
		}
		prev = bar.Time

		if s.venue != nil {
			s.venue.Process(bar)
		}
		if err := s.bot.OnBar(ctx, bar); err != nil {
			return s.finish(res), fmt.Errorf("bar %d: %w", i, err)
		}
	}

	res = s.finish(res)
	if s.exportPath != "" {
		if err := s.bot.Tracker().Export(s.exportPath); err != nil {
			s.log.Error("ledger export failed", zap.String("path", s.exportPath), zap.Error(err))
			return res, fmt.Errorf("export ledger: %w", err)
		}
		s.log.Info("ledger exported",
			zap.String("path", s.exportPath),
			zap.Int("entries", res.Summary.LedgerEntries))
	}
	return res, nil
}

func (s *Session) finish(res Result) Result {
	res.FinishedAt = time.Now().UTC()
	res.Summary = s.bot.Summary()
	res.Grid = s.bot.Snapshot()

	sum := res.Summary
	s.log.Info("session finished",
		zap.String("run_id", res.RunID.String()),
		zap.Int("bars", sum.Bars),
		zap.Int("recenters", sum.Recenters),
		zap.Int("brackets", sum.OrdersSubmitted),
		zap.Int("ledger_entries", sum.LedgerEntries),
		zap.Int("oco_conflicts", sum.OCOConflicts),
		zap.Float64("position", sum.Position))
	return res
}
