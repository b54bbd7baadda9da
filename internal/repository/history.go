package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kjannette/trahn-gridzone/internal/models"
)

var historyColumns = []string{
	"run_id", "seq", "ts", "order_ref", "parent_order_ref",
	"action", "status", "order_type", "price", "position",
}

// HistoryRepo stores ledger entries. Rows keep the ledger order through seq.
type HistoryRepo struct {
	db DBTX
}

func NewHistoryRepo(db DBTX) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// InsertAll bulk-loads entries for a run with COPY.
func (r *HistoryRepo) InsertAll(ctx context.Context, runID uuid.UUID, entries []models.HistoryEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	src := pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
		e := entries[i]
		return []any{
			runID, i + 1, e.Timestamp, e.OrderID, e.ParentOrderID,
			string(e.Action), e.Status.String(), e.Kind.String(), e.Price, e.PositionAfter,
		}, nil
	})
	n, err := r.db.CopyFrom(ctx, pgx.Identifier{"order_history"}, historyColumns, src)
	if err != nil {
		return n, fmt.Errorf("copy order history: %w", err)
	}
	return n, nil
}

// ListByRun returns a run's ledger in recording order.
func (r *HistoryRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]models.HistoryEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT ts, order_ref, parent_order_ref, action, status, order_type, price, position
		 FROM order_history WHERE run_id = $1 ORDER BY seq ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHistory(rows)
}

func collectHistory(rows rowsIter) ([]models.HistoryEntry, error) {
	out := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		var action, status, kind string
		if err := rows.Scan(&e.Timestamp, &e.OrderID, &e.ParentOrderID,
			&action, &status, &kind, &e.Price, &e.PositionAfter); err != nil {
			return nil, err
		}
		var err error
		if e.Status, err = models.ParseOrderStatus(status); err != nil {
			return nil, err
		}
		if e.Kind, err = models.ParseOrderKind(kind); err != nil {
			return nil, err
		}
		e.Action = models.Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
