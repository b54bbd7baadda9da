package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-gridzone/internal/candles"
	"github.com/kjannette/trahn-gridzone/internal/models"
	"github.com/kjannette/trahn-gridzone/internal/signal"
)

const sampleRun = `
name: btc-adaptive
dataset: data/btc_1h.csv
fromdate: 2024-01-01
todate: 2024-01-31
history:
  allow_status: [EXECUTED, CANCELED]
strategy:
  n_grid: 4
  zone:
    start_price: 100
    high_side_ratio: 0.3
    low_side_ratio: 0.7
  position:
    position_cash: 300
`

func TestParseRun_Defaults(t *testing.T) {
	rc, err := ParseRun([]byte(sampleRun))
	require.NoError(t, err)

	assert.Equal(t, 100000.0, rc.Broker.InitCash)
	assert.True(t, rc.AutoOCO())
	assert.Equal(t, PositionFixCash, rc.Strategy.Position.Type)

	z, err := rc.BuildZone()
	require.NoError(t, err)
	assert.InDelta(t, 130, z.TopPrice, 1e-9)
	assert.InDelta(t, 30, z.BottomPrice, 1e-9)
	assert.True(t, z.Adaptive)
	assert.False(t, rc.StopPolicy().Enabled())
	assert.InDelta(t, 10, rc.Sizer().Size(30), 1e-9)

	st, err := rc.AllowedStatuses()
	require.NoError(t, err)
	assert.Equal(t, []models.OrderStatus{models.StatusCompleted, models.StatusCanceled}, st)

	from, to, err := rc.Dates()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC), to)

	src, lookback, err := rc.BuildSignal()
	require.NoError(t, err)
	assert.Nil(t, src)
	assert.Zero(t, lookback)
}

func TestParseRun_FixedZoneAndSignals(t *testing.T) {
	raw := `
dataset: x.csv
broker: {init_cash: 5000, auto_oco: false}
strategy:
  n_grid: 3
  zone: {bottom_price: 10, top_price: 50}
  position: {type: fix_cash, position_cash: 100, stop_loss_ratio: 0.05}
  signal:
    type: trendline
    points:
      - {time: "2024-01-01", price: 10}
      - {time: "2024-01-11", price: 20}
    start: "2024-01-01"
`
	rc, err := ParseRun([]byte(raw))
	require.NoError(t, err)
	assert.False(t, rc.AutoOCO())

	z, err := rc.BuildZone()
	require.NoError(t, err)
	assert.False(t, z.Adaptive)
	assert.Equal(t, 30.0, z.BasePrice)
	assert.True(t, rc.StopPolicy().Enabled())

	src, lookback, err := rc.BuildSignal()
	require.NoError(t, err)
	assert.Equal(t, 1, lookback)
	tl, ok := src.(signal.Trendline)
	require.True(t, ok)
	v, ok := tl.Line.At(time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.InDelta(t, 15, v, 1e-9)
	_, ok = tl.Line.At(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestParseRun_SMASignal(t *testing.T) {
	raw := sampleRun + "  signal: {type: sma, period: 20, require_upside: true}\n"
	rc, err := ParseRun([]byte(raw))
	require.NoError(t, err)
	src, lookback, err := rc.BuildSignal()
	require.NoError(t, err)
	assert.Equal(t, signal.SMA{Period: 20}, src)
	assert.Equal(t, 20, lookback)
	assert.True(t, rc.Strategy.Signal.RequireUpside)
}

func TestParseRun_Rejects(t *testing.T) {
	cases := map[string]string{
		"grid count":   "dataset: x\nstrategy: {n_grid: 0, zone: {start_price: 100, high_side_ratio: 0.1, low_side_ratio: 0.1}, position: {position_cash: 1}}",
		"start price":  "dataset: x\nstrategy: {n_grid: 2, zone: {start_price: -1, high_side_ratio: 0.1, low_side_ratio: 0.1}, position: {position_cash: 1}}",
		"low ratio":    "dataset: x\nstrategy: {n_grid: 2, zone: {start_price: 100, high_side_ratio: 0.1, low_side_ratio: 1}, position: {position_cash: 1}}",
		"sizing type":  "dataset: x\nstrategy: {n_grid: 2, zone: {start_price: 100, high_side_ratio: 0.1, low_side_ratio: 0.1}, position: {type: PERCENT, position_cash: 1}}",
		"cash":         "dataset: x\nstrategy: {n_grid: 2, zone: {start_price: 100, high_side_ratio: 0.1, low_side_ratio: 0.1}}",
		"status":       "dataset: x\nhistory: {allow_status: [FILLED]}\nstrategy: {n_grid: 2, zone: {start_price: 100, high_side_ratio: 0.1, low_side_ratio: 0.1}, position: {position_cash: 1}}",
		"dates":        "dataset: x\nfromdate: 2024-02-01\ntodate: 2024-01-01\nstrategy: {n_grid: 2, zone: {start_price: 100, high_side_ratio: 0.1, low_side_ratio: 0.1}, position: {position_cash: 1}}",
		"signal":       "dataset: x\nstrategy: {n_grid: 2, zone: {start_price: 100, high_side_ratio: 0.1, low_side_ratio: 0.1}, position: {position_cash: 1}, signal: {type: macd}}",
		"dataset":      "strategy: {n_grid: 2, zone: {start_price: 100, high_side_ratio: 0.1, low_side_ratio: 0.1}, position: {position_cash: 1}}",
		"fixed bounds": "dataset: x\nstrategy: {n_grid: 2, zone: {bottom_price: 50, top_price: 10}, position: {position_cash: 1}}",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRun([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadRun_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRun), 0o644))
	rc, err := LoadRun(path)
	require.NoError(t, err)
	assert.Equal(t, "btc-adaptive", rc.Name)

	_, err = LoadRun(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_ValidateAndWarnings(t *testing.T) {
	for _, k := range []string{"DB_NAME", "DB_PORT", "API_PORT", "API_KEY", "MAX_OPEN_GRIDS", "MAX_ORDER_CASH",
		"STOP_LOSS_PERCENT", "TAKE_PROFIT_PERCENT"} {
		t.Setenv(k, "")
	}
	t.Setenv("PERSIST_RUNS", "true")
	t.Setenv("DB_HOST", "")
	t.Setenv("LOG_LEVEL", "verbose")
	cfg, err := Load()
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_HOST")
	assert.Contains(t, err.Error(), "LOG_LEVEL")

	t.Setenv("DB_HOST", "db")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_PASSWORD", "p")
	cfg, err = Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "postgres://u:p@db:5432/gridzone?sslmode=disable", cfg.DSN())
	assert.Len(t, cfg.Warnings(), 3)
}

func TestLoadRun_ExampleConfig(t *testing.T) {
	path := filepath.Join("..", "..", "configs", "example.yaml")
	rc, err := LoadRun(path)
	require.NoError(t, err)

	z, err := rc.BuildZone()
	require.NoError(t, err)
	assert.True(t, z.Adaptive)
	assert.Equal(t, 10, z.GridCount)

	bars, err := candles.LoadCSV(filepath.Join(filepath.Dir(path), rc.Dataset))
	require.NoError(t, err)
	from, to, err := rc.Dates()
	require.NoError(t, err)
	inRange := candles.Filter(bars, from, to)
	assert.Len(t, inRange, 48)
	assert.True(t, z.ContainsPrice(inRange[0].Close))
}
