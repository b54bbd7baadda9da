package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kjannette/trahn-gridzone/internal/candles"
	"github.com/kjannette/trahn-gridzone/internal/models"
	"github.com/kjannette/trahn-gridzone/internal/signal"
	"github.com/kjannette/trahn-gridzone/internal/strategy"
)

const (
	PositionFixCash = "FIX_CASH"

	SignalNone      = "none"
	SignalSMA       = "sma"
	SignalTrendline = "trendline"
)

// RunConfig is one backtest run file.
type RunConfig struct {
	Name     string         `yaml:"name"`
	Dataset  string         `yaml:"dataset"`
	FromDate string         `yaml:"fromdate"`
	ToDate   string         `yaml:"todate"`
	Broker   BrokerConfig   `yaml:"broker"`
	History  HistoryConfig  `yaml:"history"`
	Strategy StrategyConfig `yaml:"strategy"`
}

type BrokerConfig struct {
	InitCash float64 `yaml:"init_cash"`
	AutoOCO  *bool   `yaml:"auto_oco"`
}

type HistoryConfig struct {
	// AllowStatus limits which statuses reach the ledger; empty means all.
	AllowStatus []string `yaml:"allow_status"`
	Export      string   `yaml:"export"`
}

type StrategyConfig struct {
	NGrid          int            `yaml:"n_grid"`
	Zone           ZoneConfig     `yaml:"zone"`
	Position       PositionConfig `yaml:"position"`
	StaleAfterBars int            `yaml:"stale_after_bars"`
	Signal         SignalConfig   `yaml:"signal"`
}

// ZoneConfig builds an adaptive zone from start_price and the two ratios,
// or a fixed zone from bottom_price and top_price.
type ZoneConfig struct {
	StartPrice    float64 `yaml:"start_price"`
	HighSideRatio float64 `yaml:"high_side_ratio"`
	LowSideRatio  float64 `yaml:"low_side_ratio"`
	TopPrice      float64 `yaml:"top_price"`
	BottomPrice   float64 `yaml:"bottom_price"`
}

func (z ZoneConfig) Fixed() bool { return z.StartPrice == 0 && (z.TopPrice != 0 || z.BottomPrice != 0) }

type PositionConfig struct {
	Type          string  `yaml:"type"`
	PositionCash  float64 `yaml:"position_cash"`
	StopLossRatio float64 `yaml:"stop_loss_ratio"`
}

type SignalConfig struct {
	Type          string       `yaml:"type"`
	Period        int          `yaml:"period"`
	Points        []PricePoint `yaml:"points"`
	Start         string       `yaml:"start"`
	End           string       `yaml:"end"`
	RequireUpside bool         `yaml:"require_upside"`
}

type PricePoint struct {
	Time  string  `yaml:"time"`
	Price float64 `yaml:"price"`
}

// LoadRun reads and validates a YAML run file, filling defaults.
func LoadRun(path string) (*RunConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}
	return ParseRun(raw)
}

func ParseRun(raw []byte) (*RunConfig, error) {
	var rc RunConfig
	if err := yaml.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("parse run file: %w", err)
	}
	rc.applyDefaults()
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return &rc, nil
}

func (rc *RunConfig) applyDefaults() {
	if rc.Broker.InitCash == 0 {
		rc.Broker.InitCash = 100000
	}
	if rc.Broker.AutoOCO == nil {
		on := true
		rc.Broker.AutoOCO = &on
	}
	if rc.Strategy.Position.Type == "" {
		rc.Strategy.Position.Type = PositionFixCash
	}
	if rc.Strategy.Signal.Type == "" {
		rc.Strategy.Signal.Type = SignalNone
	}
}

func (rc *RunConfig) AutoOCO() bool { return rc.Broker.AutoOCO == nil || *rc.Broker.AutoOCO }

// Validate checks the whole run file once, before any order can be placed.
func (rc *RunConfig) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if rc.Dataset == "" {
		add("dataset is required")
	}
	if rc.Broker.InitCash <= 0 {
		add("broker.init_cash must be positive")
	}
	if _, err := rc.AllowedStatuses(); err != nil {
		add("history.allow_status: %v", err)
	}
	if from, to, err := rc.Dates(); err != nil {
		add("%v", err)
	} else if !from.IsZero() && !to.IsZero() && to.Before(from) {
		add("todate %s is before fromdate %s", rc.ToDate, rc.FromDate)
	}

	s := rc.Strategy
	if _, err := rc.BuildZone(); err != nil {
		add("strategy: %v", err)
	}
	if !strings.EqualFold(s.Position.Type, PositionFixCash) {
		add("strategy.position.type %q is not supported (only %s)", s.Position.Type, PositionFixCash)
	}
	if s.Position.PositionCash <= 0 {
		add("strategy.position.position_cash must be positive")
	}
	if s.Position.StopLossRatio < 0 || s.Position.StopLossRatio >= 1 {
		add("strategy.position.stop_loss_ratio must be in [0, 1)")
	}
	if s.StaleAfterBars < 0 {
		add("strategy.stale_after_bars must not be negative")
	}
	if _, _, err := rc.BuildSignal(); err != nil {
		add("strategy.signal: %v", err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("run config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (rc *RunConfig) BuildZone() (*strategy.Zone, error) {
	z := rc.Strategy.Zone
	if z.Fixed() {
		return strategy.NewFixedZone(z.BottomPrice, z.TopPrice, rc.Strategy.NGrid)
	}
	return strategy.NewZone(z.StartPrice, z.HighSideRatio, z.LowSideRatio, rc.Strategy.NGrid)
}

func (rc *RunConfig) StopPolicy() strategy.StopPolicy {
	return strategy.StopPolicy{Ratio: rc.Strategy.Position.StopLossRatio}
}

func (rc *RunConfig) Sizer() strategy.Sizer {
	return strategy.FixCash{Cash: rc.Strategy.Position.PositionCash}
}

// AllowedStatuses parses history.allow_status. Nil means every status.
func (rc *RunConfig) AllowedStatuses() ([]models.OrderStatus, error) {
	var out []models.OrderStatus
	for _, v := range rc.History.AllowStatus {
		s, err := models.ParseOrderStatus(v)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Dates returns the optional [fromdate, todate] range. A bare todate date
// includes that whole day.
func (rc *RunConfig) Dates() (from, to time.Time, err error) {
	if rc.FromDate != "" {
		if from, err = candles.ParseTime(rc.FromDate); err != nil {
			return from, to, fmt.Errorf("fromdate: %w", err)
		}
	}
	if rc.ToDate != "" {
		if to, err = candles.ParseTime(rc.ToDate); err != nil {
			return from, to, fmt.Errorf("todate: %w", err)
		}
		if len(rc.ToDate) == len("2006-01-02") {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
	}
	return from, to, nil
}

// BuildSignal returns the configured gate and the bar lookback it needs.
// A nil source means openings are never gated.
func (rc *RunConfig) BuildSignal() (signal.Source, int, error) {
	sc := rc.Strategy.Signal
	switch strings.ToLower(sc.Type) {
	case "", SignalNone:
		return nil, 0, nil
	case SignalSMA:
		if sc.Period <= 0 {
			return nil, 0, errors.New("sma period must be positive")
		}
		return signal.SMA{Period: sc.Period}, sc.Period, nil
	case SignalTrendline:
		if len(sc.Points) != 2 {
			return nil, 0, fmt.Errorf("trendline needs exactly 2 points, got %d", len(sc.Points))
		}
		var ts [2]time.Time
		for i, p := range sc.Points {
			t, err := candles.ParseTime(p.Time)
			if err != nil {
				return nil, 0, fmt.Errorf("point %d: %w", i, err)
			}
			ts[i] = t
		}
		if ts[0].Equal(ts[1]) {
			return nil, 0, errors.New("trendline points must have different times")
		}
		line := strategy.NewLinear(ts[0], sc.Points[0].Price, ts[1], sc.Points[1].Price)
		var start, end time.Time
		var err error
		if sc.Start != "" {
			if start, err = candles.ParseTime(sc.Start); err != nil {
				return nil, 0, fmt.Errorf("start: %w", err)
			}
		}
		if sc.End != "" {
			if end, err = candles.ParseTime(sc.End); err != nil {
				return nil, 0, fmt.Errorf("end: %w", err)
			}
		}
		return signal.Trendline{Line: line.Between(start, end)}, 1, nil
	}
	return nil, 0, fmt.Errorf("unknown type %q", sc.Type)
}
