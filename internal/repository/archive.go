package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-gridzone/internal/models"
	"github.com/kjannette/trahn-gridzone/internal/observability"
)

// RunArchive writes a finished run, its ledger and its final grid in one
// transaction.
type RunArchive struct {
	pool    *pgxpool.Pool
	log     *zap.Logger
	metrics *observability.Metrics
}

func NewRunArchive(pool *pgxpool.Pool, log *zap.Logger, m *observability.Metrics) *RunArchive {
	if log == nil {
		log = zap.NewNop()
	}
	return &RunArchive{pool: pool, log: log.Named("archive"), metrics: m}
}

func (a *RunArchive) Archive(ctx context.Context, run *models.Run, entries []models.HistoryEntry, grid models.GridSnapshot) error {
	start := time.Now()
	var copied int64
	err := pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		if _, err := NewRunRepo(tx).Create(ctx, run); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		n, err := NewHistoryRepo(tx).InsertAll(ctx, run.ID, entries)
		if err != nil {
			return err
		}
		copied = n
		if _, err := NewGridStateRepo(tx).Save(ctx, run.ID, grid); err != nil {
			return fmt.Errorf("insert grid state: %w", err)
		}
		return nil
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	if a.metrics != nil {
		a.metrics.RunsArchived.WithLabelValues(result).Inc()
		a.metrics.ArchiveDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		a.log.Error("archive run failed", zap.String("run_id", run.ID.String()), zap.Error(err))
		return err
	}
	a.log.Info("run archived",
		zap.String("run_id", run.ID.String()),
		zap.Int64("ledger_rows", copied),
		zap.Duration("took", time.Since(start)))
	return nil
}
