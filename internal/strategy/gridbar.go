package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kjannette/trahn-gridzone/internal/broker"
	"github.com/kjannette/trahn-gridzone/internal/models"
)

var ErrBarNotEmpty = errors.New("grid bar is not empty")

type BarState int

const (
	Empty BarState = iota
	Pending
	Open
	Closing
)

func (s BarState) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Pending:
		return "PENDING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// StopPolicy places the stop loss Ratio below the entry price. A zero Ratio
// disables the stop; the stop-loss order is still submitted, flagged disabled.
type StopPolicy struct {
	Ratio float64
}

func (p StopPolicy) Enabled() bool { return p.Ratio > 0 }

func (p StopPolicy) Price(level float64) float64 {
	if !p.Enabled() {
		return 0
	}
	return level * (1 - p.Ratio)
}

// GridBar is one grid level holding at most one bracket group.
type GridBar struct {
	Index      int
	line       LevelFunc
	takeProfit float64
	stop       StopPolicy
	state      BarState
	group      *BracketGroup
	broker     broker.Broker
}

func NewGridBar(level GridLevel, stop StopPolicy, brk broker.Broker) *GridBar {
	return &GridBar{
		Index:      level.Index,
		line:       Constant{Price: level.Price},
		takeProfit: level.TakeProfit,
		stop:       stop,
		broker:     brk,
	}
}

// Reprice moves the bar onto a new level. The owned group is left untouched;
// callers close the bar first.
func (b *GridBar) Reprice(level GridLevel) {
	b.line = Constant{Price: level.Price}
	b.takeProfit = level.TakeProfit
}

func (b *GridBar) Line() LevelFunc { return b.line }

// LevelPrice is the entry price of the bar. Grid bars carry horizontal lines
// so the time argument never matters.
func (b *GridBar) LevelPrice() float64 {
	p, _ := b.line.At(time.Time{})
	return p
}

func (b *GridBar) TakeProfitPrice() float64 { return b.takeProfit }

func (b *GridBar) StopLossPrice() float64 { return b.stop.Price(b.LevelPrice()) }

func (b *GridBar) State() BarState { return b.state }

// Group is the live bracket group, or nil when the bar is empty.
func (b *GridBar) Group() *BracketGroup { return b.group }

// Open submits a bracket at the bar's current prices. seq is the driver's
// bar counter, kept on the group for stale-order reporting.
func (b *GridBar) Open(ctx context.Context, t time.Time, seq int, size float64) (*BracketGroup, error) {
	if b.state != Empty {
		return nil, fmt.Errorf("bar %d in state %s: %w", b.Index, b.state, ErrBarNotEmpty)
	}
	level, ok := b.line.At(t)
	if !ok {
		return nil, fmt.Errorf("bar %d: level undefined at %s", b.Index, t.Format(time.RFC3339))
	}

	req := broker.BracketRequest{
		Time:             t,
		Size:             size,
		EntryPrice:       level,
		TakeProfitPrice:  b.takeProfit,
		StopLossPrice:    b.stop.Price(level),
		StopLossDisabled: !b.stop.Enabled(),
	}
	br, err := b.broker.SubmitBracket(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bar %d submit bracket: %w", b.Index, err)
	}

	b.group = NewBracketGroup(b.Index, br.Entry, br.TakeProfit, br.StopLoss, t, seq)
	b.state = Pending
	return b.group, nil
}

// OnExecutionNotification applies n to the owned group and moves the bar:
// entry filled -> Open, entry failed or exit completed -> Empty.
func (b *GridBar) OnExecutionNotification(n models.Notification) Outcome {
	if b.group == nil || !b.group.Owns(n.OrderID) {
		return Ignored
	}
	out := b.group.Apply(n)
	switch out {
	case EntryFilled:
		b.state = Open
	case EntryFailed, Exited:
		b.release()
	case Updated:
		// every leg terminal without a fill or exit; nothing left to watch
		if b.group.Done() {
			b.release()
		}
	}
	return out
}

// Close cancels whatever is still live in the owned group and empties the
// bar. Closing an empty bar does nothing. Orders the venue already finished
// are not treated as errors.
func (b *GridBar) Close(ctx context.Context) error {
	if b.state == Empty && b.group == nil {
		return nil
	}
	b.state = Closing

	var errs []error
	if b.group != nil {
		for _, o := range b.group.LiveOrders() {
			err := b.broker.Cancel(ctx, o.ID)
			if err == nil || errors.Is(err, broker.ErrOrderNotLive) || errors.Is(err, broker.ErrUnknownOrder) {
				continue
			}
			errs = append(errs, fmt.Errorf("cancel order %d: %w", o.ID, err))
		}
	}
	b.release()
	return errors.Join(errs...)
}

func (b *GridBar) release() {
	b.group = nil
	b.state = Empty
}

func (b *GridBar) Snapshot() models.GridBarSnapshot {
	s := models.GridBarSnapshot{
		Index:           b.Index,
		LevelPrice:      b.LevelPrice(),
		TakeProfitPrice: b.takeProfit,
		StopLossPrice:   b.StopLossPrice(),
		StopLossEnabled: b.stop.Enabled(),
		State:           b.state.String(),
	}
	if b.group != nil {
		id := b.group.Entry.ID
		s.EntryOrderID = &id
	}
	return s
}

// Sizer turns a grid level into an order size.
type Sizer interface {
	Size(level float64) float64
}

// FixCash spends the same cash amount on every grid entry.
type FixCash struct {
	Cash float64
}

func (f FixCash) Size(level float64) float64 {
	if level <= 0 {
		return 0
	}
	return f.Cash / level
}
