package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one immutable row of the order-history ledger.
type HistoryEntry struct {
	Timestamp     time.Time   `json:"time"`
	OrderID       int64       `json:"orderRef"`
	ParentOrderID *int64      `json:"parentOrderRef,omitempty"`
	Action        Action      `json:"action"`
	Status        OrderStatus `json:"status"`
	Kind          OrderKind   `json:"orderType"`
	Price         float64     `json:"price"`
	PositionAfter float64     `json:"position"`
}

type GridBarSnapshot struct {
	Index           int     `json:"index"`
	LevelPrice      float64 `json:"levelPrice"`
	TakeProfitPrice float64 `json:"takeProfitPrice"`
	StopLossPrice   float64 `json:"stopLossPrice"`
	StopLossEnabled bool    `json:"stopLossEnabled"`
	State           string  `json:"state"`
	EntryOrderID    *int64  `json:"entryOrderRef,omitempty"`
}

// GridSnapshot captures the zone and every grid bar at one point in time.
type GridSnapshot struct {
	Time        time.Time         `json:"time"`
	BasePrice   float64           `json:"basePrice"`
	TopPrice    float64           `json:"topPrice"`
	BottomPrice float64           `json:"bottomPrice"`
	Adaptive    bool              `json:"adaptive"`
	Recenters   int               `json:"recenters"`
	Bars        []GridBarSnapshot `json:"bars"`
}

// GridState is a persisted grid snapshot.
type GridState struct {
	ID          int64           `json:"id"`
	RunID       uuid.UUID       `json:"runId"`
	BasePrice   float64         `json:"basePrice"`
	TopPrice    float64         `json:"topPrice"`
	BottomPrice float64         `json:"bottomPrice"`
	GridJSON    json.RawMessage `json:"grid"`
	CreatedAt   time.Time       `json:"createdAt"`
}
