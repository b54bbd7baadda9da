// Package broker defines the execution venue the grid engine submits bracket
// orders to, plus an in-memory paper venue for backtests.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/kjannette/trahn-gridzone/internal/models"
)

var (
	// ErrOrderNotLive is returned when cancelling an order that is already
	// filled, rejected or canceled.
	ErrOrderNotLive = errors.New("order is not live")
	ErrUnknownOrder = errors.New("unknown order")
)

// BracketRequest describes a buy-limit entry with its take-profit and
// stop-loss children.
type BracketRequest struct {
	Time             time.Time
	Size             float64
	EntryPrice       float64
	TakeProfitPrice  float64
	StopLossPrice    float64
	StopLossDisabled bool
}

// Bracket is the venue's view of the three orders right after submission.
type Bracket struct {
	Entry      models.Order
	TakeProfit models.Order
	StopLoss   models.Order
}

// Broker is the minimal surface the grid engine needs. Status changes are
// delivered asynchronously through a StatusHandler.
type Broker interface {
	SubmitBracket(ctx context.Context, req BracketRequest) (Bracket, error)
	Cancel(ctx context.Context, orderID int64) error
}

type StatusHandler func(models.Notification)
