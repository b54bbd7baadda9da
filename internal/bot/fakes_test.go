package bot

import (
	"context"
	"sync"
	"time"

	"github.com/kjannette/trahn-gridzone/internal/broker"
	"github.com/kjannette/trahn-gridzone/internal/models"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func at(i int) time.Time { return t0.Add(time.Duration(i) * time.Hour) }

func flat(i int, price float64) models.Bar {
	return models.Bar{Time: at(i), Open: price, High: price, Low: price, Close: price}
}

// scriptedBroker accepts every bracket silently; tests push notifications
// into the bot by hand.
type scriptedBroker struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[int64]models.Order
	submitted []broker.BracketRequest
	canceled  []int64
}

func newScriptedBroker() *scriptedBroker {
	return &scriptedBroker{nextID: 1, orders: map[int64]models.Order{}}
}

func (s *scriptedBroker) SubmitBracket(_ context.Context, req broker.BracketRequest) (broker.Bracket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID += 3
	br := broker.Bracket{
		Entry: models.Order{ID: id, Kind: models.KindEntry, Action: models.ActionBuy,
			RequestedPrice: req.EntryPrice, Size: req.Size},
		StopLoss: models.Order{ID: id + 1, ParentID: id, Kind: models.KindStopLoss, Action: models.ActionSell,
			RequestedPrice: req.StopLossPrice, Size: req.Size, Disabled: req.StopLossDisabled},
		TakeProfit: models.Order{ID: id + 2, ParentID: id, Kind: models.KindTakeProfit, Action: models.ActionSell,
			RequestedPrice: req.TakeProfitPrice, Size: req.Size},
	}
	for _, o := range []models.Order{br.Entry, br.StopLoss, br.TakeProfit} {
		s.orders[o.ID] = o
	}
	s.submitted = append(s.submitted, req)
	return br, nil
}

func (s *scriptedBroker) Cancel(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return broker.ErrUnknownOrder
	}
	s.canceled = append(s.canceled, id)
	return nil
}

// note builds a notification for an order the broker handed out.
func (s *scriptedBroker) note(id int64, status models.OrderStatus, executed ...float64) models.Notification {
	s.mu.Lock()
	o := s.orders[id]
	s.mu.Unlock()
	var px *float64
	if len(executed) > 0 {
		px = &executed[0]
	}
	return models.NotificationFor(o, status, px, time.Time{})
}

type fakePortfolio struct {
	pnl   float64
	value float64
}

func (f *fakePortfolio) Value(float64) float64      { return f.value }
func (f *fakePortfolio) PnLPercent(float64) float64 { return f.pnl }

type fakeNotifier struct {
	msgs []string
}

func (f *fakeNotifier) Send(msg string) { f.msgs = append(f.msgs, msg) }

type fixedSignal struct {
	value float64
	ok    bool
}

func (f fixedSignal) Predict([]models.Bar) (float64, bool) { return f.value, f.ok }
