// Package signal provides per-bar scalar signals that gate new grid entries.
package signal

import (
	"math"

	"github.com/kjannette/trahn-gridzone/internal/models"
	"github.com/kjannette/trahn-gridzone/internal/strategy"
)

// Source predicts a price from the bars seen so far, oldest first. ok is
// false while there is not enough history.
type Source interface {
	Predict(window []models.Bar) (value float64, ok bool)
}

// SMA is the simple moving average of the last Period closes.
type SMA struct {
	Period int
}

func (s SMA) Predict(window []models.Bar) (float64, bool) {
	if s.Period <= 0 || len(window) < s.Period {
		return math.NaN(), false
	}
	var sum float64
	for _, b := range window[len(window)-s.Period:] {
		sum += b.Close
	}
	return sum / float64(s.Period), true
}

// Trendline reads a level function at the time of the latest bar.
type Trendline struct {
	Line strategy.LevelFunc
}

func (t Trendline) Predict(window []models.Bar) (float64, bool) {
	if len(window) == 0 || t.Line == nil {
		return math.NaN(), false
	}
	v, ok := t.Line.At(window[len(window)-1].Time)
	if !ok {
		return math.NaN(), false
	}
	return v, true
}

// Window keeps the most recent bars up to a fixed capacity.
type Window struct {
	size int
	bars []models.Bar
}

func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{size: size, bars: make([]models.Bar, 0, size)}
}

func (w *Window) Push(b models.Bar) {
	if len(w.bars) == w.size {
		copy(w.bars, w.bars[1:])
		w.bars = w.bars[:w.size-1]
	}
	w.bars = append(w.bars, b)
}

// Bars returns the buffered bars, oldest first. The slice is reused by the
// next Push.
func (w *Window) Bars() []models.Bar { return w.bars }

func (w *Window) Len() int { return len(w.bars) }
