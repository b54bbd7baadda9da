package bot

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-gridzone/internal/history"
	"github.com/kjannette/trahn-gridzone/internal/models"
	"github.com/kjannette/trahn-gridzone/internal/observability"
	"github.com/kjannette/trahn-gridzone/internal/risk"
	"github.com/kjannette/trahn-gridzone/internal/strategy"
)

var ctx = context.Background()

// newTestBot builds the 100/0.3/0.7/4 grid: levels 30, 50, 70, 90 and
// 300 cash per entry, so bar 0 trades size 10.
func newTestBot(t *testing.T, opts Options, allow ...models.OrderStatus) (*GridBot, *scriptedBroker) {
	t.Helper()
	z, err := strategy.NewZone(100, 0.3, 0.7, 4)
	require.NoError(t, err)
	sb := newScriptedBroker()
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics(prometheus.NewRegistry(), "test")
	}
	b, err := NewGridBot(Params{Zone: z, Sizer: strategy.FixCash{Cash: 300}}, sb, history.NewTracker(allow...), nil, opts)
	require.NoError(t, err)
	return b, sb
}

func TestNewGridBot_Validation(t *testing.T) {
	z, err := strategy.NewZone(100, 0.3, 0.7, 4)
	require.NoError(t, err)

	_, err = NewGridBot(Params{Sizer: strategy.FixCash{Cash: 1}}, newScriptedBroker(), nil, nil, Options{})
	assert.ErrorIs(t, err, strategy.ErrInvalidZone)
	_, err = NewGridBot(Params{Zone: z}, newScriptedBroker(), nil, nil, Options{})
	assert.Error(t, err)
	_, err = NewGridBot(Params{Zone: z, Sizer: strategy.FixCash{Cash: 1}}, nil, nil, nil, Options{})
	assert.Error(t, err)
}

func TestOnBar_OpensEveryEmptyBarOnce(t *testing.T) {
	b, sb := newTestBot(t, Options{})

	require.NoError(t, b.OnBar(ctx, flat(0, 100)))
	require.Len(t, sb.submitted, 4)
	for i, req := range sb.submitted {
		assert.InDelta(t, 30+20*float64(i), req.EntryPrice, 1e-9)
		assert.InDelta(t, 50+20*float64(i), req.TakeProfitPrice, 1e-9)
		assert.True(t, req.StopLossDisabled)
		assert.InDelta(t, 300/req.EntryPrice, req.Size, 1e-9)
	}

	// nothing is Empty any more: no duplicate submissions
	for i := 1; i < 5; i++ {
		require.NoError(t, b.OnBar(ctx, flat(i, 100)))
	}
	assert.Len(t, sb.submitted, 4)
	assert.Equal(t, 4, b.OpenGroups())
	for _, gb := range b.Bars() {
		assert.Equal(t, strategy.Pending, gb.State())
	}
}

func TestOnBar_RecenterClosesAndReopens(t *testing.T) {
	notifier := &fakeNotifier{}
	b, sb := newTestBot(t, Options{Notify: notifier})

	require.NoError(t, b.OnBar(ctx, flat(0, 100)))
	b.OnOrderStatus(sb.note(1, models.StatusCompleted, 30))
	require.NoError(t, b.OnBar(ctx, flat(1, 100)))
	require.Equal(t, strategy.Open, b.Bars()[0].State())
	old := make([]*strategy.BracketGroup, 4)
	for i, gb := range b.Bars() {
		old[i] = gb.Group()
	}

	require.NoError(t, b.OnBar(ctx, flat(2, 150)))

	z := b.Zone()
	assert.Equal(t, 150.0, z.BasePrice)
	assert.InDelta(t, 45, z.BottomPrice, 1e-9)
	assert.InDelta(t, 195, z.TopPrice, 1e-9)

	// bar 0 had a filled entry: only its exits are cancelled; the others lose all three
	assert.ElementsMatch(t, []int64{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, sb.canceled)

	// every bar was reopened at the new prices with a new group
	require.Len(t, sb.submitted, 8)
	for i, gb := range b.Bars() {
		assert.Equal(t, strategy.Pending, gb.State())
		assert.NotSame(t, old[i], gb.Group())
		assert.InDelta(t, 45+30*float64(i), gb.LevelPrice(), 1e-9)
	}
	assert.Equal(t, 1, b.Summary().Recenters)
	require.Len(t, notifier.msgs, 1)
	assert.Contains(t, notifier.msgs[0], "recentered")

	// late confirmations for the abandoned orders change nothing but the ledger
	before := b.Tracker().Len()
	for _, id := range []int64{2, 3, 4, 5, 6} {
		b.OnOrderStatus(sb.note(id, models.StatusCanceled))
	}
	require.NoError(t, b.OnBar(ctx, flat(3, 150)))
	assert.Equal(t, before+5, b.Tracker().Len())
	assert.Len(t, sb.submitted, 8)
	assert.InDelta(t, 10, b.Position(), 1e-9, "filled entry of the abandoned group is still held")
	for _, gb := range b.Bars() {
		assert.Equal(t, strategy.Pending, gb.State())
	}
}

func TestOnBar_NoRecenterInsideZone(t *testing.T) {
	b, _ := newTestBot(t, Options{})
	require.NoError(t, b.OnBar(ctx, flat(0, 130)))
	require.NoError(t, b.OnBar(ctx, flat(1, 30.0000001)))
	assert.Equal(t, 0, b.Summary().Recenters)
}

func TestOnBar_LateStopLossCancel(t *testing.T) {
	b, sb := newTestBot(t, Options{})
	require.NoError(t, b.OnBar(ctx, flat(0, 100)))

	b.OnOrderStatus(sb.note(1, models.StatusCompleted, 30))
	b.OnOrderStatus(sb.note(3, models.StatusCompleted, 50))
	b.OnOrderStatus(sb.note(2, models.StatusCanceled))
	require.NoError(t, b.OnBar(ctx, flat(1, 100)))

	entries := b.Tracker().Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, models.StatusCompleted, entries[0].Status)
	assert.Equal(t, models.KindEntry, entries[0].Kind)
	assert.InDelta(t, 10, entries[0].PositionAfter, 1e-9)
	assert.Equal(t, models.StatusCompleted, entries[1].Status)
	assert.Equal(t, models.KindTakeProfit, entries[1].Kind)
	assert.Equal(t, 50.0, entries[1].Price)
	assert.InDelta(t, 0, entries[1].PositionAfter, 1e-9)
	assert.Equal(t, models.StatusCanceled, entries[2].Status)
	assert.Equal(t, models.KindStopLoss, entries[2].Kind)
	require.NotNil(t, entries[2].ParentOrderID)
	assert.Equal(t, int64(1), *entries[2].ParentOrderID)

	assert.Equal(t, strategy.Empty, b.Bars()[0].State())
	assert.Empty(t, sb.canceled, "sibling was already cancelled by the venue")

	// no second exit is accepted for the finished group
	b.OnOrderStatus(sb.note(2, models.StatusCompleted, 20))
	b.OnOrderStatus(sb.note(3, models.StatusCompleted, 50))
	require.NoError(t, b.OnBar(ctx, flat(2, 100)))
	assert.InDelta(t, 0, b.Position(), 1e-9)
	assert.Equal(t, 1, b.Summary().OCOConflicts)
}

func TestOnBar_ExitCancelsLiveSibling(t *testing.T) {
	b, sb := newTestBot(t, Options{})
	require.NoError(t, b.OnBar(ctx, flat(0, 100)))

	b.OnOrderStatus(sb.note(1, models.StatusCompleted, 30))
	require.NoError(t, b.OnBar(ctx, flat(1, 100)))
	b.OnOrderStatus(sb.note(3, models.StatusCompleted, 50))
	require.NoError(t, b.OnBar(ctx, flat(2, 100)))

	assert.Equal(t, []int64{2}, sb.canceled)
	assert.Equal(t, strategy.Empty, b.Bars()[0].State())

	// the bar reopens on the next bar; the late cancel confirmation of the
	// old stop loss does not touch the new group
	b.OnOrderStatus(sb.note(2, models.StatusCanceled))
	require.NoError(t, b.OnBar(ctx, flat(3, 100)))
	assert.Equal(t, strategy.Pending, b.Bars()[0].State())
	assert.Equal(t, int64(13), b.Bars()[0].Group().Entry.ID)
	assert.Len(t, sb.submitted, 5)
}

func TestOnBar_OCOConflictCountsPositionOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg, "test")
	b, sb := newTestBot(t, Options{Metrics: m})
	require.NoError(t, b.OnBar(ctx, flat(0, 100)))

	b.OnOrderStatus(sb.note(1, models.StatusCompleted, 30))
	b.OnOrderStatus(sb.note(3, models.StatusCompleted, 50))
	b.OnOrderStatus(sb.note(2, models.StatusCompleted, 25))
	require.NoError(t, b.OnBar(ctx, flat(1, 100)))

	assert.InDelta(t, 0, b.Position(), 1e-9)
	assert.Equal(t, 1, b.Summary().OCOConflicts)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OCOConflicts))
	assert.Equal(t, 3, b.Tracker().Len(), "the conflicting notification is still an event")
	assert.Equal(t, []int64{2}, sb.canceled, "the engine still asks the venue to cancel the loser")
}

func TestOnBar_EntryRejectedFreesBar(t *testing.T) {
	b, sb := newTestBot(t, Options{})
	require.NoError(t, b.OnBar(ctx, flat(0, 100)))

	b.OnOrderStatus(sb.note(4, models.StatusRejected))
	require.NoError(t, b.OnBar(ctx, flat(1, 100)))
	assert.Equal(t, strategy.Empty, b.Bars()[1].State())

	require.NoError(t, b.OnBar(ctx, flat(2, 100)))
	assert.Equal(t, strategy.Pending, b.Bars()[1].State())
	assert.Len(t, sb.submitted, 5)
}

func TestOnBar_UnknownOrderIsRecordedNotApplied(t *testing.T) {
	b, _ := newTestBot(t, Options{})
	require.NoError(t, b.OnBar(ctx, flat(0, 100)))

	b.OnOrderStatus(models.Notification{OrderID: 999, ParentID: 998, Kind: models.KindTakeProfit,
		Action: models.ActionSell, Status: models.StatusCompleted, Price: 10})
	require.NoError(t, b.OnBar(ctx, flat(1, 100)))

	assert.Equal(t, 1, b.Summary().UnknownNotifications)
	assert.Equal(t, 1, b.Tracker().Len())
	assert.InDelta(t, 0, b.Position(), 1e-9)
	for _, gb := range b.Bars() {
		assert.Equal(t, strategy.Pending, gb.State())
	}
}

func TestOnBar_LedgerHonoursAllowSet(t *testing.T) {
	b, sb := newTestBot(t, Options{}, models.StatusCompleted)
	require.NoError(t, b.OnBar(ctx, flat(0, 100)))

	b.OnOrderStatus(sb.note(1, models.StatusAccepted))
	b.OnOrderStatus(sb.note(1, models.StatusCompleted, 30))
	b.OnOrderStatus(sb.note(3, models.StatusAccepted))
	b.OnOrderStatus(sb.note(3, models.StatusCompleted, 50))
	b.OnOrderStatus(sb.note(2, models.StatusCanceled))
	require.NoError(t, b.OnBar(ctx, flat(1, 100)))

	entries := b.Tracker().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].OrderID)
	assert.Equal(t, int64(3), entries[1].OrderID)
}

func TestOnBar_SignalGate(t *testing.T) {
	b, sb := newTestBot(t, Options{Signal: fixedSignal{ok: false}})
	require.NoError(t, b.OnBar(ctx, flat(0, 100)))
	assert.Empty(t, sb.submitted, "insufficient history skips openings")

	b, sb = newTestBot(t, Options{Signal: fixedSignal{value: 90, ok: true}, RequireUpside: true})
	require.NoError(t, b.OnBar(ctx, flat(0, 100)))
	assert.Empty(t, sb.submitted, "signal below close")

	b, sb = newTestBot(t, Options{Signal: fixedSignal{value: 110, ok: true}, RequireUpside: true})
	require.NoError(t, b.OnBar(ctx, flat(0, 100)))
	assert.Len(t, sb.submitted, 4)
}

func TestOnBar_GuardianLimits(t *testing.T) {
	g := risk.NewGuardian(risk.Limits{MaxOpenGroups: 2}, nil)
	b, sb := newTestBot(t, Options{Guardian: g})
	require.NoError(t, b.OnBar(ctx, flat(0, 100)))
	assert.Len(t, sb.submitted, 2)

	g = risk.NewGuardian(risk.Limits{MaxOrderCash: 100}, nil)
	b, sb = newTestBot(t, Options{Guardian: g})
	require.NoError(t, b.OnBar(ctx, flat(0, 100)))
	assert.Empty(t, sb.submitted)
}

func TestOnBar_CircuitBreakerHalts(t *testing.T) {
	g := risk.NewGuardian(risk.Limits{StopLossPercent: 10}, nil)
	pf := &fakePortfolio{pnl: -12}
	notifier := &fakeNotifier{}
	b, sb := newTestBot(t, Options{Guardian: g, Portfolio: pf, Notify: notifier})

	require.NoError(t, b.OnBar(ctx, flat(0, 100)))
	assert.True(t, b.Halted())
	assert.Empty(t, sb.submitted)
	require.Len(t, notifier.msgs, 1)
	assert.Contains(t, notifier.msgs[0], "CIRCUIT BREAKER")

	pf.pnl = 0
	require.NoError(t, b.OnBar(ctx, flat(1, 100)))
	assert.Empty(t, sb.submitted, "halt is permanent")
}

func TestOnBar_StaleEntriesReportedOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg, "test")
	z, err := strategy.NewZone(100, 0.3, 0.7, 4)
	require.NoError(t, err)
	sb := newScriptedBroker()
	b, err := NewGridBot(Params{Zone: z, Sizer: strategy.FixCash{Cash: 300}, StaleAfterBars: 2}, sb, nil, nil, Options{Metrics: m})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.OnBar(ctx, flat(i, 100)))
	}
	assert.Equal(t, 0, b.Summary().StaleOrders)

	require.NoError(t, b.OnBar(ctx, flat(3, 100)))
	assert.Equal(t, 4, b.Summary().StaleOrders)

	require.NoError(t, b.OnBar(ctx, flat(4, 100)))
	assert.Equal(t, 4, b.Summary().StaleOrders)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.StaleOrders))
}

func TestOnBar_CanceledContext(t *testing.T) {
	b, sb := newTestBot(t, Options{})
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, b.OnBar(cctx, flat(0, 100)), context.Canceled)
	assert.Empty(t, sb.submitted)
}

func TestSnapshot(t *testing.T) {
	b, _ := newTestBot(t, Options{})
	require.NoError(t, b.OnBar(ctx, flat(0, 100)))

	s := b.Snapshot()
	assert.Equal(t, at(0), s.Time)
	assert.True(t, s.Adaptive)
	require.Len(t, s.Bars, 4)
	assert.Equal(t, "PENDING", s.Bars[2].State)
	require.NotNil(t, s.Bars[2].EntryOrderID)
	assert.Equal(t, int64(7), *s.Bars[2].EntryOrderID)
}
