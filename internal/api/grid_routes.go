package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kjannette/trahn-gridzone/internal/repository"
)

type gridResponse struct {
	BasePrice   float64         `json:"basePrice"`
	TopPrice    float64         `json:"topPrice"`
	BottomPrice float64         `json:"bottomPrice"`
	Grid        json.RawMessage `json:"grid"`
	LastUpdate  string          `json:"lastUpdate"`
}

func (s *Server) handleRunGrid(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	state, err := s.deps.Grids.GetLatest(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no grid stored for run")
		return
	}
	if err != nil {
		s.internalError(w, "get grid", err)
		return
	}

	grid := state.GridJSON
	if grid == nil {
		grid = json.RawMessage("{}")
	}
	writeJSON(w, http.StatusOK, gridResponse{
		BasePrice:   state.BasePrice,
		TopPrice:    state.TopPrice,
		BottomPrice: state.BottomPrice,
		Grid:        grid,
		LastUpdate:  state.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	})
}
