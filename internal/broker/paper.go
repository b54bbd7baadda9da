package broker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-gridzone/internal/models"
)

type PaperConfig struct {
	InitialCash float64
	// AutoOCO cancels the sibling exit as soon as one exit fills.
	AutoOCO bool
}

// Fill is one simulated execution.
type Fill struct {
	OrderID       int64            `json:"orderId"`
	Kind          models.OrderKind `json:"kind"`
	Action        models.Action    `json:"action"`
	Price         float64          `json:"price"`
	Size          float64          `json:"size"`
	Time          time.Time        `json:"time"`
	CashAfter     float64          `json:"cashAfter"`
	PositionAfter float64          `json:"positionAfter"`
}

type paperOrder struct {
	models.Order
	active bool
	// eligible only on bars strictly after this time
	after    time.Time
	children []int64
}

// PaperBroker simulates bracket orders against OHLC bars. Entries are buy
// limits, take-profits sell limits and stop-losses sell stops. Orders never
// fill on the bar they became active on.
type PaperBroker struct {
	mu       sync.Mutex
	cfg      PaperConfig
	log      *zap.Logger
	initial  decimal.Decimal
	cash     decimal.Decimal
	position decimal.Decimal
	nextID   int64
	orders   map[int64]*paperOrder
	handlers []StatusHandler
	fills    []Fill
	rejected int
	now      time.Time
}

func NewPaperBroker(cfg PaperConfig, log *zap.Logger) *PaperBroker {
	if log == nil {
		log = zap.NewNop()
	}
	cash := decimal.NewFromFloat(cfg.InitialCash)
	log.Info("paper broker ready",
		zap.String("cash", cash.StringFixed(2)),
		zap.Bool("auto_oco", cfg.AutoOCO))
	return &PaperBroker{
		cfg:     cfg,
		log:     log.Named("broker"),
		initial: cash,
		cash:    cash,
		nextID:  1,
		orders:  make(map[int64]*paperOrder),
	}
}

// OnStatus registers a handler for every order status change.
func (p *PaperBroker) OnStatus(h StatusHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

func (p *PaperBroker) SubmitBracket(_ context.Context, req BracketRequest) (Bracket, error) {
	if req.Size <= 0 || math.IsNaN(req.Size) || math.IsInf(req.Size, 0) {
		return Bracket{}, fmt.Errorf("bracket size must be positive, got %v", req.Size)
	}
	if req.EntryPrice <= 0 || req.TakeProfitPrice <= 0 {
		return Bracket{}, fmt.Errorf("bracket prices must be positive: entry %.4f tp %.4f", req.EntryPrice, req.TakeProfitPrice)
	}

	p.mu.Lock()
	if req.Time.After(p.now) {
		p.now = req.Time
	}
	id := p.nextID
	p.nextID += 3

	entry := &paperOrder{
		Order: models.Order{ID: id, Kind: models.KindEntry, Action: models.ActionBuy,
			RequestedPrice: req.EntryPrice, Size: req.Size},
		active:   true,
		after:    req.Time,
		children: []int64{id + 1, id + 2},
	}
	sl := &paperOrder{Order: models.Order{ID: id + 1, ParentID: id, Kind: models.KindStopLoss, Action: models.ActionSell,
		RequestedPrice: req.StopLossPrice, Size: req.Size, Disabled: req.StopLossDisabled}}
	tp := &paperOrder{Order: models.Order{ID: id + 2, ParentID: id, Kind: models.KindTakeProfit, Action: models.ActionSell,
		RequestedPrice: req.TakeProfitPrice, Size: req.Size}}

	out := Bracket{Entry: entry.Order, TakeProfit: tp.Order, StopLoss: sl.Order}
	var pending []models.Notification
	for _, o := range []*paperOrder{entry, sl, tp} {
		p.orders[o.ID] = o
		pending = append(pending, p.transition(o, models.StatusAccepted, nil, req.Time))
	}
	handlers := p.handlers
	p.mu.Unlock()

	p.log.Debug("bracket accepted",
		zap.Int64("entry", id),
		zap.Float64("price", req.EntryPrice),
		zap.Float64("tp", req.TakeProfitPrice),
		zap.Float64("sl", req.StopLossPrice),
		zap.Bool("sl_disabled", req.StopLossDisabled),
		zap.Float64("size", req.Size))
	dispatch(handlers, pending)
	return out, nil
}

// Cancel cancels a live order. Cancelling an entry also cancels its children.
func (p *PaperBroker) Cancel(_ context.Context, orderID int64) error {
	p.mu.Lock()
	o, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("order %d: %w", orderID, ErrUnknownOrder)
	}
	if o.Status.IsTerminal() {
		p.mu.Unlock()
		return fmt.Errorf("order %d is %s: %w", orderID, o.Status, ErrOrderNotLive)
	}
	pending := []models.Notification{p.transition(o, models.StatusCanceled, nil, p.now)}
	pending = append(pending, p.cancelChildren(o, p.now)...)
	handlers := p.handlers
	p.mu.Unlock()

	dispatch(handlers, pending)
	return nil
}

// Process matches every live order against bar, in submission order, and
// delivers the resulting notifications.
func (p *PaperBroker) Process(bar models.Bar) {
	p.mu.Lock()
	if bar.Time.After(p.now) {
		p.now = bar.Time
	}
	ids := make([]int64, 0, len(p.orders))
	for id, o := range p.orders {
		if o.active && !o.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var pending []models.Notification
	for _, id := range ids {
		o := p.orders[id]
		// an earlier order in this pass may have canceled it
		if o.Status.IsTerminal() || !bar.Time.After(o.after) {
			continue
		}
		pending = append(pending, p.match(o, bar)...)
	}
	handlers := p.handlers
	p.mu.Unlock()

	dispatch(handlers, pending)
}

func (p *PaperBroker) match(o *paperOrder, bar models.Bar) []models.Notification {
	price := o.RequestedPrice
	switch o.Kind {
	case models.KindEntry:
		if bar.Low > price {
			return nil
		}
		px := math.Min(bar.Open, price)
		cost := decimal.NewFromFloat(px).Mul(decimal.NewFromFloat(o.Size))
		if cost.GreaterThan(p.cash) {
			p.rejected++
			p.log.Warn("entry rejected: insufficient cash",
				zap.Int64("order", o.ID),
				zap.String("cost", cost.StringFixed(2)),
				zap.String("cash", p.cash.StringFixed(2)))
			out := []models.Notification{p.transition(o, models.StatusRejected, nil, bar.Time)}
			return append(out, p.cancelChildren(o, bar.Time)...)
		}
		p.cash = p.cash.Sub(cost)
		p.position = p.position.Add(decimal.NewFromFloat(o.Size))
		for _, cid := range o.children {
			c := p.orders[cid]
			c.active = true
			c.after = bar.Time
		}
		return []models.Notification{p.fill(o, px, bar.Time)}

	case models.KindTakeProfit:
		if bar.High < price {
			return nil
		}
		return p.exit(o, math.Max(bar.Open, price), bar.Time)

	case models.KindStopLoss:
		if o.Disabled || bar.Low > price {
			return nil
		}
		return p.exit(o, math.Min(bar.Open, price), bar.Time)
	}
	return nil
}

func (p *PaperBroker) exit(o *paperOrder, px float64, t time.Time) []models.Notification {
	p.cash = p.cash.Add(decimal.NewFromFloat(px).Mul(decimal.NewFromFloat(o.Size)))
	p.position = p.position.Sub(decimal.NewFromFloat(o.Size))
	out := []models.Notification{p.fill(o, px, t)}
	if !p.cfg.AutoOCO {
		return out
	}
	parent := p.orders[o.ParentID]
	for _, cid := range parent.children {
		if c := p.orders[cid]; cid != o.ID && !c.Status.IsTerminal() {
			out = append(out, p.transition(c, models.StatusCanceled, nil, t))
		}
	}
	return out
}

func (p *PaperBroker) fill(o *paperOrder, px float64, t time.Time) models.Notification {
	f := Fill{
		OrderID:       o.ID,
		Kind:          o.Kind,
		Action:        o.Action,
		Price:         px,
		Size:          o.Size,
		Time:          t,
		CashAfter:     p.cash.InexactFloat64(),
		PositionAfter: p.position.InexactFloat64(),
	}
	p.fills = append(p.fills, f)
	p.log.Debug("order filled",
		zap.Int64("order", o.ID),
		zap.Stringer("kind", o.Kind),
		zap.Float64("price", px),
		zap.Float64("size", o.Size),
		zap.String("position", p.position.StringFixed(6)))
	return p.transition(o, models.StatusCompleted, &px, t)
}

func (p *PaperBroker) cancelChildren(o *paperOrder, t time.Time) []models.Notification {
	var out []models.Notification
	for _, cid := range o.children {
		if c := p.orders[cid]; !c.Status.IsTerminal() {
			out = append(out, p.transition(c, models.StatusCanceled, nil, t))
		}
	}
	return out
}

func (p *PaperBroker) transition(o *paperOrder, status models.OrderStatus, executed *float64, t time.Time) models.Notification {
	o.Status = status
	o.ExecutedPrice = executed
	return models.NotificationFor(o.Order, status, executed, t)
}

func dispatch(handlers []StatusHandler, ns []models.Notification) {
	for _, n := range ns {
		for _, h := range handlers {
			h(n)
		}
	}
}

// Order returns the venue's current view of an order.
func (p *PaperBroker) Order(id int64) (models.Order, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return models.Order{}, false
	}
	return o.Order, true
}

func (p *PaperBroker) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash.InexactFloat64()
}

func (p *PaperBroker) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position.InexactFloat64()
}

// Value is cash plus the position marked at price.
func (p *PaperBroker) Value(price float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value(price).InexactFloat64()
}

func (p *PaperBroker) value(price float64) decimal.Decimal {
	return p.cash.Add(p.position.Mul(decimal.NewFromFloat(price)))
}

// PnLPercent is the change of Value against the initial cash.
func (p *PaperBroker) PnLPercent(price float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initial.IsZero() {
		return 0
	}
	return p.value(price).Sub(p.initial).Div(p.initial).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

func (p *PaperBroker) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

type PaperStats struct {
	InitialCash float64 `json:"initialCash"`
	Cash        float64 `json:"cash"`
	Position    float64 `json:"position"`
	Value       float64 `json:"value"`
	PnL         float64 `json:"pnl"`
	PnLPct      float64 `json:"pnlPercent"`
	TotalFills  int     `json:"totalFills"`
	BuyFills    int     `json:"buyFills"`
	SellFills   int     `json:"sellFills"`
	Rejected    int     `json:"rejected"`
}

func (p *PaperBroker) Stats(price float64) PaperStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	val := p.value(price)
	pnl := val.Sub(p.initial)
	pnlPct := 0.0
	if !p.initial.IsZero() {
		pnlPct = pnl.Div(p.initial).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	buys, sells := 0, 0
	for _, f := range p.fills {
		if f.Action == models.ActionBuy {
			buys++
		} else {
			sells++
		}
	}
	return PaperStats{
		InitialCash: p.initial.InexactFloat64(),
		Cash:        p.cash.InexactFloat64(),
		Position:    p.position.InexactFloat64(),
		Value:       val.InexactFloat64(),
		PnL:         pnl.InexactFloat64(),
		PnLPct:      pnlPct,
		TotalFills:  len(p.fills),
		BuyFills:    buys,
		SellFills:   sells,
		Rejected:    p.rejected,
	}
}
