package strategy

import (
	"fmt"
	"strings"

	"github.com/kjannette/trahn-gridzone/internal/broker"
)

type GridStats struct {
	Levels       int      `json:"levels"`
	LowestPrice  *float64 `json:"lowestPrice"`
	HighestPrice *float64 `json:"highestPrice"`
	Empty        int      `json:"empty"`
	Pending      int      `json:"pending"`
	Open         int      `json:"open"`
	Closing      int      `json:"closing"`
}

// NewGridBars builds one bar per zone level.
func NewGridBars(z *Zone, stop StopPolicy, brk broker.Broker) []*GridBar {
	levels := z.Levels()
	bars := make([]*GridBar, len(levels))
	for i, l := range levels {
		bars[i] = NewGridBar(l, stop, brk)
	}
	return bars
}

func GetGridStats(bars []*GridBar) GridStats {
	if len(bars) == 0 {
		return GridStats{}
	}

	s := GridStats{Levels: len(bars)}
	lo := bars[0].LevelPrice()
	hi := bars[len(bars)-1].LevelPrice()
	s.LowestPrice = &lo
	s.HighestPrice = &hi

	for _, b := range bars {
		switch b.State() {
		case Empty:
			s.Empty++
		case Pending:
			s.Pending++
		case Open:
			s.Open++
		case Closing:
			s.Closing++
		}
	}
	return s
}

// FormatGridDisplay renders the zone and its bars, highest level first.
func FormatGridDisplay(z *Zone, bars []*GridBar) string {
	if len(bars) == 0 {
		return "No grid levels initialized."
	}

	var b strings.Builder
	b.WriteString("┌──────────────────────────────────────────────────────┐\n")
	b.WriteString("│                     GRID LEVELS                      │\n")
	b.WriteString("├──────────────────────────────────────────────────────┤\n")

	for i := len(bars) - 1; i >= 0; i-- {
		bar := bars[i]
		fmt.Fprintf(&b, "│ #%-3d %-8s @ %12.3f │ tp %12.3f │\n",
			bar.Index, bar.State(), bar.LevelPrice(), bar.TakeProfitPrice())
	}

	b.WriteString("├──────────────────────────────────────────────────────┤\n")
	mode := "fixed"
	if z.Adaptive {
		mode = "adaptive"
	}
	fmt.Fprintf(&b, "│  Zone [%.3f, %.3f] base %.3f (%s)\n", z.BottomPrice, z.TopPrice, z.BasePrice, mode)
	b.WriteString("└──────────────────────────────────────────────────────┘")

	return b.String()
}
