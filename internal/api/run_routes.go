package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-gridzone/internal/history"
	"github.com/kjannette/trahn-gridzone/internal/models"
	"github.com/kjannette/trahn-gridzone/internal/repository"
)

type runResponse struct {
	models.Run
	ReturnPercent float64 `json:"returnPercent"`
}

func toRunResponse(run models.Run) runResponse {
	return runResponse{Run: run, ReturnPercent: run.ReturnPercent()}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.deps.Runs.List(r.Context(), parseLimit(r, 50))
	if err != nil {
		s.internalError(w, "list runs", err)
		return
	}
	out := make([]runResponse, len(runs))
	for i, run := range runs {
		out[i] = toRunResponse(run)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	run, err := s.deps.Runs.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(*run))
}

type historyResponse struct {
	RunID   uuid.UUID             `json:"runId"`
	Count   int                   `json:"count"`
	Entries []models.HistoryEntry `json:"entries"`
}

func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	id, entries, ok := s.loadHistory(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{RunID: id, Count: len(entries), Entries: entries})
}

func (s *Server) handleRunHistoryCSV(w http.ResponseWriter, r *http.Request) {
	id, entries, ok := s.loadHistory(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id.String()+".csv"))
	if err := history.WriteEntriesCSV(w, entries); err != nil {
		s.log.Error("write history csv", zap.String("run_id", id.String()), zap.Error(err))
	}
}

// loadHistory answers 404 for unknown runs rather than an empty ledger.
func (s *Server) loadHistory(w http.ResponseWriter, r *http.Request) (uuid.UUID, []models.HistoryEntry, bool) {
	id, ok := s.runID(w, r)
	if !ok {
		return id, nil, false
	}
	if _, err := s.deps.Runs.Get(r.Context(), id); err != nil {
		s.storeError(w, "get run", err)
		return id, nil, false
	}
	entries, err := s.deps.History.ListByRun(r.Context(), id)
	if err != nil {
		s.internalError(w, "list history", err)
		return id, nil, false
	}
	return id, entries, true
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return id, false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.internalError(w, what, err)
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.log.Error(what, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
