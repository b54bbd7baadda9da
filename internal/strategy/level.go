package strategy

import (
	"time"
)

// LevelFunc maps a bar time to a price line. ok is false when the line is
// not defined at t.
type LevelFunc interface {
	At(t time.Time) (price float64, ok bool)
}

// Constant is a horizontal line.
type Constant struct {
	Price float64
}

func (c Constant) At(time.Time) (float64, bool) { return c.Price, true }

// Linear is the straight line through two (time, price) points, optionally
// restricted to [Start, End). Zero Start or End leaves that side open.
type Linear struct {
	slope     float64 // price per second
	intercept float64
	Start     time.Time
	End       time.Time
}

// NewLinear builds the line through (t1, p1) and (t2, p2). Equal times give a
// horizontal line at p1.
func NewLinear(t1 time.Time, p1 float64, t2 time.Time, p2 float64) Linear {
	x1 := float64(t1.Unix())
	x2 := float64(t2.Unix())
	var m float64
	if x2 != x1 {
		m = (p2 - p1) / (x2 - x1)
	}
	return Linear{slope: m, intercept: p1 - m*x1}
}

// Between returns a copy of l active only in [start, end).
func (l Linear) Between(start, end time.Time) Linear {
	l.Start = start
	l.End = end
	return l
}

func (l Linear) At(t time.Time) (float64, bool) {
	if !l.Start.IsZero() && t.Before(l.Start) {
		return 0, false
	}
	if !l.End.IsZero() && !t.Before(l.End) {
		return 0, false
	}
	return l.slope*float64(t.Unix()) + l.intercept, true
}

// Slope is the price change per day.
func (l Linear) Slope() float64 {
	return l.slope * 86400
}
