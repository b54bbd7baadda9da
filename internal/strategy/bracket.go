package strategy

import (
	"time"

	"github.com/kjannette/trahn-gridzone/internal/models"
)

// Outcome describes what a notification did to a bracket group.
type Outcome int

const (
	// Ignored: duplicate, backward, post-terminal or foreign notification.
	Ignored Outcome = iota
	// Updated: status advanced without changing the group's phase.
	Updated
	EntryFilled
	// EntryFailed: entry rejected or canceled, no position was taken.
	EntryFailed
	// Exited: take-profit or stop-loss completed first.
	Exited
	// OCOConflict: a second exit completion for a group that already exited.
	OCOConflict
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Updated:
		return "updated"
	case EntryFilled:
		return "entry_filled"
	case EntryFailed:
		return "entry_failed"
	case Exited:
		return "exited"
	case OCOConflict:
		return "oco_conflict"
	}
	return "unknown"
}

// BracketGroup is an entry order with its take-profit and stop-loss
// children, tracked as one unit.
type BracketGroup struct {
	GridIndex  int
	Entry      *models.Order
	TakeProfit *models.Order
	StopLoss   *models.Order
	OpenedAt   time.Time
	// OpenedSeq is the driver's bar counter when the group was submitted.
	OpenedSeq int

	exit *models.Order
}

func NewBracketGroup(gridIndex int, entry, tp, sl models.Order, openedAt time.Time, seq int) *BracketGroup {
	return &BracketGroup{
		GridIndex:  gridIndex,
		Entry:      &entry,
		TakeProfit: &tp,
		StopLoss:   &sl,
		OpenedAt:   openedAt,
		OpenedSeq:  seq,
	}
}

// Orders returns entry, take-profit and stop-loss in that order.
func (g *BracketGroup) Orders() []*models.Order {
	return []*models.Order{g.Entry, g.TakeProfit, g.StopLoss}
}

func (g *BracketGroup) Order(id int64) *models.Order {
	for _, o := range g.Orders() {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (g *BracketGroup) Owns(id int64) bool { return g.Order(id) != nil }

// Exit is the completed take-profit or stop-loss, or nil.
func (g *BracketGroup) Exit() *models.Order { return g.exit }

// Sibling returns the other exit leg of o, or nil when o is the entry.
func (g *BracketGroup) Sibling(o *models.Order) *models.Order {
	switch o {
	case g.TakeProfit:
		return g.StopLoss
	case g.StopLoss:
		return g.TakeProfit
	}
	return nil
}

// LiveOrders returns the orders that have not reached a terminal status.
func (g *BracketGroup) LiveOrders() []*models.Order {
	var live []*models.Order
	for _, o := range g.Orders() {
		if !o.Status.IsTerminal() {
			live = append(live, o)
		}
	}
	return live
}

// Done reports whether every order of the group is terminal.
func (g *BracketGroup) Done() bool { return len(g.LiveOrders()) == 0 }

// Apply advances the addressed order along Created -> Accepted -> terminal.
// Backward, repeated and post-terminal notifications change nothing. A
// completion of the second exit leg is reported as OCOConflict and is not
// applied, so at most one of take-profit and stop-loss is ever completed.
func (g *BracketGroup) Apply(n models.Notification) Outcome {
	o := g.Order(n.OrderID)
	if o == nil {
		return Ignored
	}
	isExit := o != g.Entry
	if isExit && n.Status == models.StatusCompleted && g.exit != nil && g.exit != o {
		return OCOConflict
	}
	if o.Status.IsTerminal() || n.Status.Stage() <= o.Status.Stage() {
		return Ignored
	}

	o.Status = n.Status
	if n.Status == models.StatusCompleted {
		px := n.Price
		if n.ExecutedPrice != nil {
			px = *n.ExecutedPrice
		}
		o.ExecutedPrice = &px
	}

	switch {
	case !isExit && n.Status == models.StatusCompleted:
		return EntryFilled
	case !isExit && n.Status.IsTerminal():
		return EntryFailed
	case isExit && n.Status == models.StatusCompleted:
		g.exit = o
		return Exited
	}
	return Updated
}
