package strategy

import (
	"errors"
	"fmt"
)

var ErrInvalidZone = errors.New("invalid grid zone")

// GridLevel is the entry and take-profit price of one grid bar.
type GridLevel struct {
	Index      int     `json:"index"`
	Price      float64 `json:"price"`
	TakeProfit float64 `json:"takeProfit"`
}

// Zone is the price range covered by the grid. An adaptive zone follows the
// price by recentering around a new base; a fixed zone never moves.
type Zone struct {
	BasePrice     float64 `json:"basePrice"`
	TopPrice      float64 `json:"topPrice"`
	BottomPrice   float64 `json:"bottomPrice"`
	HighSideRatio float64 `json:"highSideRatio"`
	LowSideRatio  float64 `json:"lowSideRatio"`
	GridCount     int     `json:"gridCount"`
	Adaptive      bool    `json:"adaptive"`
}

func NewZone(base, highRatio, lowRatio float64, n int) (*Zone, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: grid count must be positive, got %d", ErrInvalidZone, n)
	}
	if base <= 0 {
		return nil, fmt.Errorf("%w: start price must be positive, got %.4f", ErrInvalidZone, base)
	}
	if highRatio <= 0 {
		return nil, fmt.Errorf("%w: high side ratio must be positive, got %.4f", ErrInvalidZone, highRatio)
	}
	if lowRatio <= 0 || lowRatio >= 1 {
		return nil, fmt.Errorf("%w: low side ratio must be in (0, 1), got %.4f", ErrInvalidZone, lowRatio)
	}
	z := &Zone{
		HighSideRatio: highRatio,
		LowSideRatio:  lowRatio,
		GridCount:     n,
		Adaptive:      true,
	}
	z.setBase(base)
	return z, nil
}

// NewFixedZone builds a zone spanning [bottom, top] that never recenters.
func NewFixedZone(bottom, top float64, n int) (*Zone, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: grid count must be positive, got %d", ErrInvalidZone, n)
	}
	if bottom <= 0 || top <= bottom {
		return nil, fmt.Errorf("%w: need 0 < bottom < top, got [%.4f, %.4f]", ErrInvalidZone, bottom, top)
	}
	base := (top + bottom) / 2
	return &Zone{
		BasePrice:     base,
		TopPrice:      top,
		BottomPrice:   bottom,
		HighSideRatio: top/base - 1,
		LowSideRatio:  1 - bottom/base,
		GridCount:     n,
	}, nil
}

func (z *Zone) setBase(base float64) {
	z.BasePrice = base
	z.TopPrice = base * (1 + z.HighSideRatio)
	z.BottomPrice = base * (1 - z.LowSideRatio)
}

// Recenter moves an adaptive zone to a new base price. It reports whether the
// zone changed; fixed zones and non-positive prices are left alone.
func (z *Zone) Recenter(newBase float64) bool {
	if !z.Adaptive || newBase <= 0 {
		return false
	}
	z.setBase(newBase)
	return true
}

func (z *Zone) ContainsPrice(p float64) bool {
	return p >= z.BottomPrice && p <= z.TopPrice
}

// NeedsRecenter is true when an adaptive zone no longer contains the close.
func (z *Zone) NeedsRecenter(close float64) bool {
	return z.Adaptive && !z.ContainsPrice(close)
}

func (z *Zone) GridSize() float64 {
	return (z.TopPrice - z.BottomPrice) / float64(z.GridCount+1)
}

func (z *Zone) Level(i int) GridLevel {
	gs := z.GridSize()
	return GridLevel{
		Index:      i,
		Price:      z.BottomPrice + gs*float64(i),
		TakeProfit: z.BottomPrice + gs*float64(i+1),
	}
}

// Levels returns the n grid levels in ascending price order.
func (z *Zone) Levels() []GridLevel {
	out := make([]GridLevel, z.GridCount)
	for i := range out {
		out[i] = z.Level(i)
	}
	return out
}
