package models

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// Run is one backtest session over a price stream.
type Run struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Dataset         string          `json:"dataset"`
	StartedAt       time.Time       `json:"startedAt"`
	FinishedAt      *time.Time      `json:"finishedAt,omitempty"`
	Bars            int             `json:"bars"`
	Recenters       int             `json:"recenters"`
	OrdersSubmitted int             `json:"ordersSubmitted"`
	LedgerEntries   int             `json:"ledgerEntries"`
	InitialCash     float64         `json:"initialCash"`
	EndingValue     *float64        `json:"endingValue,omitempty"`
	ConfigJSON      json.RawMessage `json:"config,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// ReturnPercent is the run's total return, or 0 while it has no ending value.
func (r *Run) ReturnPercent() float64 {
	if r.EndingValue == nil || r.InitialCash == 0 {
		return 0
	}
	return (*r.EndingValue - r.InitialCash) / r.InitialCash * 100
}

// HasDrifted reports whether the ending value moved more than thresholdPercent
// away from previous.
func (r *Run) HasDrifted(previous *Run, thresholdPercent float64) bool {
	if previous == nil || previous.EndingValue == nil || *previous.EndingValue == 0 || r.EndingValue == nil {
		return true
	}
	change := math.Abs((*r.EndingValue - *previous.EndingValue) / *previous.EndingValue * 100)
	return change >= thresholdPercent
}
