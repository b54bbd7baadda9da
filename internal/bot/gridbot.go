package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-gridzone/internal/broker"
	"github.com/kjannette/trahn-gridzone/internal/history"
	"github.com/kjannette/trahn-gridzone/internal/models"
	"github.com/kjannette/trahn-gridzone/internal/observability"
	"github.com/kjannette/trahn-gridzone/internal/risk"
	"github.com/kjannette/trahn-gridzone/internal/signal"
	"github.com/kjannette/trahn-gridzone/internal/strategy"
)

// Notifier delivers human-readable event messages (webhook, chat).
type Notifier interface {
	Send(msg string)
}

// Portfolio values the account for the circuit breaker and equity gauge.
type Portfolio interface {
	Value(price float64) float64
	PnLPercent(price float64) float64
}

type Params struct {
	Zone  *strategy.Zone
	Sizer strategy.Sizer
	Stop  strategy.StopPolicy
	// StaleAfterBars > 0 reports entries left unfilled for longer than this.
	StaleAfterBars int
}

type Options struct {
	Guardian       *risk.Guardian
	Signal         signal.Source
	SignalLookback int
	// RequireUpside opens only when the signal is at or above the close.
	RequireUpside bool
	Portfolio     Portfolio
	Notify        Notifier
	Metrics       *observability.Metrics
}

// GridBot drives the grid one price bar at a time. Order status updates are
// queued by OnOrderStatus and applied inside OnBar only.
type GridBot struct {
	params  Params
	zone    *strategy.Zone
	bars    []*strategy.GridBar
	broker  broker.Broker
	tracker *history.Tracker
	log     *zap.Logger
	opts    Options
	metrics *observability.Metrics

	mu    sync.Mutex
	inbox []models.Notification

	// every group ever opened, by order id; retired groups stay reachable so
	// late notifications can be matched
	groups map[int64]*strategy.BracketGroup
	exited []*strategy.BracketGroup
	stale  map[int64]bool
	window *signal.Window

	position  decimal.Decimal
	seq       int
	now       time.Time
	lastClose float64
	halted    bool

	recenters int
	submitted int
	conflicts int
	staleSeen int
	unknown   int
}

func NewGridBot(p Params, brk broker.Broker, tracker *history.Tracker, log *zap.Logger, opts Options) (*GridBot, error) {
	if p.Zone == nil {
		return nil, fmt.Errorf("grid bot: %w: zone is required", strategy.ErrInvalidZone)
	}
	if p.Sizer == nil {
		return nil, errors.New("grid bot: sizer is required")
	}
	if brk == nil {
		return nil, errors.New("grid bot: broker is required")
	}
	if tracker == nil {
		tracker = history.NewTracker()
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = observability.NewMetrics(prometheus.NewRegistry(), "")
	}
	lookback := opts.SignalLookback
	if lookback < 1 {
		lookback = 1
	}

	b := &GridBot{
		params:  p,
		zone:    p.Zone,
		bars:    strategy.NewGridBars(p.Zone, p.Stop, brk),
		broker:  brk,
		tracker: tracker,
		log:     log.Named("grid"),
		opts:    opts,
		metrics: m,
		groups:  make(map[int64]*strategy.BracketGroup),
		stale:   make(map[int64]bool),
		window:  signal.NewWindow(lookback),
	}
	if opts.Guardian != nil {
		opts.Guardian.SetCounter(b)
	}
	return b, nil
}

// OnOrderStatus queues a venue notification for the next OnBar.
func (b *GridBot) OnOrderStatus(n models.Notification) {
	b.mu.Lock()
	b.inbox = append(b.inbox, n)
	b.mu.Unlock()
}

func (b *GridBot) takeInbox() []models.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.inbox
	b.inbox = nil
	return batch
}

// OnBar runs one step: recenter when the close left an adaptive zone, open
// every empty bar, then apply all queued notifications.
func (b *GridBot) OnBar(ctx context.Context, bar models.Bar) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.seq++
	b.now = bar.Time
	b.lastClose = bar.Close
	b.window.Push(bar)
	b.metrics.BarsProcessed.Inc()

	if b.zone.NeedsRecenter(bar.Close) {
		b.recenter(ctx, bar.Close)
	}

	b.checkPortfolio(bar.Close)
	b.openAvailable(ctx, bar)
	b.drain(ctx)
	b.reportStale()

	b.metrics.OpenGrids.Set(float64(b.OpenGroups()))
	if b.opts.Portfolio != nil {
		b.metrics.Equity.Set(b.opts.Portfolio.Value(bar.Close))
	}
	return nil
}

func (b *GridBot) recenter(ctx context.Context, price float64) {
	oldBottom, oldTop := b.zone.BottomPrice, b.zone.TopPrice
	if !b.zone.Recenter(price) {
		return
	}
	closed := 0
	for _, gb := range b.bars {
		if gb.Group() != nil {
			closed++
		}
		if err := gb.Close(ctx); err != nil {
			b.log.Warn("cancel on recenter failed", zap.Int("bar", gb.Index), zap.Error(err))
		}
		gb.Reprice(b.zone.Level(gb.Index))
	}
	b.recenters++
	b.metrics.Recenters.Inc()

	b.log.Info("zone recentered",
		zap.Time("time", b.now),
		zap.Float64("close", price),
		zap.Float64("old_bottom", oldBottom),
		zap.Float64("old_top", oldTop),
		zap.Float64("bottom", b.zone.BottomPrice),
		zap.Float64("top", b.zone.TopPrice),
		zap.Int("closed_groups", closed))
	b.notify(fmt.Sprintf("Zone recentered at %.4f: [%.4f, %.4f], %d groups closed",
		price, b.zone.BottomPrice, b.zone.TopPrice, closed))
}

func (b *GridBot) checkPortfolio(price float64) {
	if b.halted || b.opts.Guardian == nil || b.opts.Portfolio == nil {
		return
	}
	if err := b.opts.Guardian.PortfolioCheck(b.opts.Portfolio.PnLPercent(price)); err != nil {
		b.halted = true
		b.log.Warn("circuit breaker tripped, no new grids will open", zap.Error(err))
		b.notify(fmt.Sprintf("CIRCUIT BREAKER: %v - halting new grids", err))
	}
}

func (b *GridBot) openAvailable(ctx context.Context, bar models.Bar) {
	if b.halted {
		return
	}
	if src := b.opts.Signal; src != nil {
		v, ok := src.Predict(b.window.Bars())
		if !ok {
			b.log.Debug("signal not ready, skipping openings", zap.Time("time", bar.Time))
			return
		}
		b.metrics.SignalValue.Set(v)
		if b.opts.RequireUpside && v < bar.Close {
			return
		}
	}

	for _, gb := range b.bars {
		if gb.State() != strategy.Empty {
			continue
		}
		level := gb.LevelPrice()
		size := b.params.Sizer.Size(level)
		if size <= 0 {
			continue
		}
		if g := b.opts.Guardian; g != nil {
			if err := g.PreTradeCheck(size * level); err != nil {
				b.log.Debug("open blocked", zap.Int("bar", gb.Index), zap.Error(err))
				continue
			}
		}

		group, err := gb.Open(ctx, bar.Time, b.seq, size)
		if err != nil {
			b.log.Error("open grid failed", zap.Int("bar", gb.Index), zap.Error(err))
			continue
		}
		for _, o := range group.Orders() {
			b.groups[o.ID] = group
		}
		b.submitted++
		b.metrics.OrdersSubmitted.Inc()
		b.log.Debug("grid opened",
			zap.Int("bar", gb.Index),
			zap.Int64("entry", group.Entry.ID),
			zap.Float64("price", level),
			zap.Float64("tp", gb.TakeProfitPrice()),
			zap.Float64("size", size))
	}
}

// drain applies queued notifications until the inbox stays empty. Cancels
// issued along the way produce new notifications that are handled in the
// same bar.
func (b *GridBot) drain(ctx context.Context) {
	for {
		batch := b.takeInbox()
		if len(batch) == 0 {
			if !b.enforceOCO(ctx) {
				return
			}
			continue
		}
		for _, n := range batch {
			b.handle(n)
		}
	}
}

func (b *GridBot) handle(n models.Notification) {
	g := b.groups[n.OrderID]
	out := strategy.Ignored
	live := false

	switch {
	case g == nil:
		b.unknown++
		b.log.Debug("notification for untracked order",
			zap.Int64("order", n.OrderID), zap.Stringer("status", n.Status))
	case b.bars[g.GridIndex].Group() == g:
		live = true
		out = b.bars[g.GridIndex].OnExecutionNotification(n)
	default:
		out = g.Apply(n)
	}

	var o *models.Order
	if g != nil {
		o = g.Order(n.OrderID)
	}
	switch out {
	case strategy.EntryFilled:
		b.position = b.position.Add(decimal.NewFromFloat(o.Size))
		if !live {
			b.log.Warn("entry filled after its grid was closed",
				zap.Int64("order", o.ID), zap.Int("bar", g.GridIndex))
		}
	case strategy.Exited:
		b.position = b.position.Sub(decimal.NewFromFloat(o.Size))
		if live {
			b.exited = append(b.exited, g)
		}
	case strategy.OCOConflict:
		b.conflicts++
		b.metrics.OCOConflicts.Inc()
		b.log.Warn("second exit completion ignored",
			zap.Int64("order", n.OrderID),
			zap.Int64("first_exit", g.Exit().ID),
			zap.Int("bar", g.GridIndex))
	}

	b.record(n)
	b.metrics.Notifications.WithLabelValues(n.Status.String(), out.String()).Inc()
}

// enforceOCO cancels the surviving sibling of every group that exited since
// the last call. It reports whether any cancel was sent.
func (b *GridBot) enforceOCO(ctx context.Context) bool {
	pending := b.exited
	b.exited = nil
	sent := false
	for _, g := range pending {
		sib := g.Sibling(g.Exit())
		if sib == nil || sib.Status.IsTerminal() {
			continue
		}
		err := b.broker.Cancel(ctx, sib.ID)
		switch {
		case err == nil:
			sent = true
		case errors.Is(err, broker.ErrOrderNotLive), errors.Is(err, broker.ErrUnknownOrder):
			b.log.Debug("sibling already finished", zap.Int64("order", sib.ID))
		default:
			b.log.Error("cancel sibling failed", zap.Int64("order", sib.ID), zap.Error(err))
		}
	}
	return sent
}

func (b *GridBot) record(n models.Notification) {
	price := n.Price
	if n.Status == models.StatusCompleted && n.ExecutedPrice != nil {
		price = *n.ExecutedPrice
	}
	var parent *int64
	if n.ParentID != 0 {
		p := n.ParentID
		parent = &p
	}
	ok := b.tracker.Record(models.HistoryEntry{
		Timestamp:     b.now,
		OrderID:       n.OrderID,
		ParentOrderID: parent,
		Action:        n.Action,
		Status:        n.Status,
		Kind:          n.Kind,
		Price:         price,
		PositionAfter: b.position.InexactFloat64(),
	})
	if ok {
		b.metrics.LedgerEntries.Inc()
	}
}

func (b *GridBot) reportStale() {
	limit := b.params.StaleAfterBars
	if limit <= 0 {
		return
	}
	for _, gb := range b.bars {
		g := gb.Group()
		if g == nil || g.Entry.Status.IsTerminal() || b.stale[g.Entry.ID] {
			continue
		}
		if age := b.seq - g.OpenedSeq; age > limit {
			b.stale[g.Entry.ID] = true
			b.staleSeen++
			b.metrics.StaleOrders.Inc()
			b.log.Warn("stale entry order",
				zap.Int64("order", g.Entry.ID),
				zap.Int("bar", gb.Index),
				zap.Stringer("status", g.Entry.Status),
				zap.Int("age_bars", age))
		}
	}
}

func (b *GridBot) notify(msg string) {
	if b.opts.Notify != nil {
		b.opts.Notify.Send(msg)
	}
}

// OpenGroups counts grid bars holding a bracket group.
func (b *GridBot) OpenGroups() int {
	n := 0
	for _, gb := range b.bars {
		if gb.Group() != nil {
			n++
		}
	}
	return n
}

func (b *GridBot) Zone() strategy.Zone { return *b.zone }

func (b *GridBot) Bars() []*strategy.GridBar { return b.bars }

func (b *GridBot) Tracker() *history.Tracker { return b.tracker }

// Position is the net size implied by the fills the engine accepted.
func (b *GridBot) Position() float64 { return b.position.InexactFloat64() }

func (b *GridBot) Halted() bool { return b.halted }

func (b *GridBot) Snapshot() models.GridSnapshot {
	s := models.GridSnapshot{
		Time:        b.now,
		BasePrice:   b.zone.BasePrice,
		TopPrice:    b.zone.TopPrice,
		BottomPrice: b.zone.BottomPrice,
		Adaptive:    b.zone.Adaptive,
		Recenters:   b.recenters,
		Bars:        make([]models.GridBarSnapshot, len(b.bars)),
	}
	for i, gb := range b.bars {
		s.Bars[i] = gb.Snapshot()
	}
	return s
}

type Summary struct {
	Bars                 int     `json:"bars"`
	Recenters            int     `json:"recenters"`
	OrdersSubmitted      int     `json:"ordersSubmitted"`
	LedgerEntries        int     `json:"ledgerEntries"`
	OCOConflicts         int     `json:"ocoConflicts"`
	StaleOrders          int     `json:"staleOrders"`
	UnknownNotifications int     `json:"unknownNotifications"`
	OpenGroups           int     `json:"openGroups"`
	Position             float64 `json:"position"`
	LastClose            float64 `json:"lastClose"`
	Halted               bool    `json:"halted"`
}

func (b *GridBot) Summary() Summary {
	return Summary{
		Bars:                 b.seq,
		Recenters:            b.recenters,
		OrdersSubmitted:      b.submitted,
		LedgerEntries:        b.tracker.Len(),
		OCOConflicts:         b.conflicts,
		StaleOrders:          b.staleSeen,
		UnknownNotifications: b.unknown,
		OpenGroups:           b.OpenGroups(),
		Position:             b.Position(),
		LastClose:            b.lastClose,
		Halted:               b.halted,
	}
}
