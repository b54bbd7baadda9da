package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kjannette/trahn-gridzone/internal/models"
)

type GridStateRepo struct {
	db DBTX
}

func NewGridStateRepo(db DBTX) *GridStateRepo {
	return &GridStateRepo{db: db}
}

// Save stores a grid snapshot for a run.
func (r *GridStateRepo) Save(ctx context.Context, runID uuid.UUID, snap models.GridSnapshot) (*models.GridState, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode grid snapshot: %w", err)
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO grid_state (run_id, base_price, top_price, bottom_price, grid_json)
		 VALUES ($1,$2,$3,$4,$5)
		 RETURNING id, run_id, base_price, top_price, bottom_price, grid_json, created_at`,
		runID, snap.BasePrice, snap.TopPrice, snap.BottomPrice, raw,
	)
	return scanGridState(row)
}

// GetLatest returns the newest snapshot of a run.
func (r *GridStateRepo) GetLatest(ctx context.Context, runID uuid.UUID) (*models.GridState, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, run_id, base_price, top_price, bottom_price, grid_json, created_at
		 FROM grid_state WHERE run_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		runID,
	)
	gs, err := scanGridState(row)
	if err != nil {
		return nil, notFound(err)
	}
	return gs, nil
}

func scanGridState(row scannable) (*models.GridState, error) {
	var gs models.GridState
	var raw []byte
	err := row.Scan(&gs.ID, &gs.RunID, &gs.BasePrice, &gs.TopPrice, &gs.BottomPrice, &raw, &gs.CreatedAt)
	if err != nil {
		return nil, err
	}
	gs.GridJSON = raw
	return &gs, nil
}
