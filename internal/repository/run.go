package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/kjannette/trahn-gridzone/internal/models"
)

const runColumns = `id, name, dataset, started_at, finished_at, bars, recenters,
	orders_submitted, ledger_entries, initial_cash, ending_value, config_json, created_at`

type RunRepo struct {
	db DBTX
}

func NewRunRepo(db DBTX) *RunRepo {
	return &RunRepo{db: db}
}

// Create inserts run. A nil ID is replaced by a fresh one.
func (r *RunRepo) Create(ctx context.Context, run *models.Run) (*models.Run, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO backtest_runs
		 (id, name, dataset, started_at, finished_at, bars, recenters,
		  orders_submitted, ledger_entries, initial_cash, ending_value, config_json)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 RETURNING `+runColumns,
		run.ID, run.Name, run.Dataset, run.StartedAt, run.FinishedAt, run.Bars, run.Recenters,
		run.OrdersSubmitted, run.LedgerEntries, run.InitialCash, run.EndingValue, nullJSON(run.ConfigJSON),
	)
	return scanRun(row)
}

// Finish stores the final counters of a run.
func (r *RunRepo) Finish(ctx context.Context, run *models.Run) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE backtest_runs
		 SET finished_at = $2, bars = $3, recenters = $4, orders_submitted = $5,
		     ledger_entries = $6, ending_value = $7
		 WHERE id = $1`,
		run.ID, run.FinishedAt, run.Bars, run.Recenters, run.OrdersSubmitted,
		run.LedgerEntries, run.EndingValue,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RunRepo) Get(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	row := r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, notFound(err)
	}
	return run, nil
}

// List returns the most recent runs first.
func (r *RunRepo) List(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+runColumns+` FROM backtest_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanRun(row scannable) (*models.Run, error) {
	var run models.Run
	var cfg []byte
	err := row.Scan(
		&run.ID, &run.Name, &run.Dataset, &run.StartedAt, &run.FinishedAt,
		&run.Bars, &run.Recenters, &run.OrdersSubmitted, &run.LedgerEntries,
		&run.InitialCash, &run.EndingValue, &cfg, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.ConfigJSON = cfg
	return &run, nil
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
