package risk

import (
	"errors"
	"fmt"
)

var (
	ErrTradeBlocked = errors.New("trade blocked")
	ErrBreaker      = errors.New("circuit breaker tripped")
)

// GroupCounter reports how many bracket groups currently hold a live order,
// so Guardian can be tested without a running grid.
type GroupCounter interface {
	OpenGroups() int
}

// Limits holds the four risk thresholds from config.
// A zero value for any field means that check is disabled.
type Limits struct {
	MaxOpenGroups     int
	MaxOrderCash      float64
	StopLossPercent   float64
	TakeProfitPercent float64
}

func (l Limits) Enabled() bool {
	return l.MaxOpenGroups > 0 || l.MaxOrderCash > 0 || l.StopLossPercent > 0 || l.TakeProfitPercent > 0
}

type Guardian struct {
	limits  Limits
	counter GroupCounter
}

func NewGuardian(limits Limits, counter GroupCounter) *Guardian {
	return &Guardian{limits: limits, counter: counter}
}

// SetCounter attaches the counter after construction, for callers whose
// counter needs the guardian first.
func (g *Guardian) SetCounter(c GroupCounter) { g.counter = c }

// PreTradeCheck validates per-order constraints before a bracket is placed.
// Returns nil if the order is allowed, a descriptive error if blocked.
func (g *Guardian) PreTradeCheck(orderCash float64) error {
	if g.limits.MaxOrderCash > 0 && orderCash > g.limits.MaxOrderCash {
		return fmt.Errorf("%w: order cash $%.2f exceeds max $%.2f",
			ErrTradeBlocked, orderCash, g.limits.MaxOrderCash)
	}

	if g.limits.MaxOpenGroups > 0 && g.counter != nil {
		if open := g.counter.OpenGroups(); open >= g.limits.MaxOpenGroups {
			return fmt.Errorf("%w: limit of %d open grids reached (%d open)",
				ErrTradeBlocked, g.limits.MaxOpenGroups, open)
		}
	}

	return nil
}

// PortfolioCheck evaluates portfolio-level circuit breakers.
// pnlPercent is the unrealized P&L as a percentage (e.g. -8.5 means down 8.5%).
// Returns nil if trading should continue, a descriptive error if a breaker tripped.
func (g *Guardian) PortfolioCheck(pnlPercent float64) error {
	if g.limits.StopLossPercent > 0 && pnlPercent <= -g.limits.StopLossPercent {
		return fmt.Errorf("%w: STOP-LOSS, portfolio down %.2f%% (threshold: -%.2f%%)",
			ErrBreaker, pnlPercent, g.limits.StopLossPercent)
	}

	if g.limits.TakeProfitPercent > 0 && pnlPercent >= g.limits.TakeProfitPercent {
		return fmt.Errorf("%w: TAKE-PROFIT, portfolio up %.2f%% (threshold: +%.2f%%)",
			ErrBreaker, pnlPercent, g.limits.TakeProfitPercent)
	}

	return nil
}
